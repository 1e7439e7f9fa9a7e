package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace/noop"

	"topup/internal/service/topup/application"
	"topup/internal/service/topup/domain"
	"topup/internal/service/topup/domain/port"
	"topup/internal/service/topup/infrastructure"
)

type stubGateway struct{ err error }

func (g stubGateway) CreateInvoice(_ context.Context, req port.InvoiceRequest) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return "https://pay.example/" + req.OrderID, nil
}

type stubNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *stubNotifier) Notify(_ context.Context, recipient, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, recipient+": "+message)
	return nil
}

type stubDispatcher struct {
	mu  sync.Mutex
	ids []string
}

func (d *stubDispatcher) Dispatch(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, id)
	return nil
}

type testServer struct {
	mux        *http.ServeMux
	repo       *infrastructure.MemoryOrderRepository
	notifier   *stubNotifier
	dispatcher *stubDispatcher
}

func newTestServer(t *testing.T, gw port.PaymentGateway) *testServer {
	t.Helper()
	tracer := noop.NewTracerProvider().Tracer("test")
	repo := infrastructure.NewMemoryOrderRepository()
	catalog := domain.NewCatalog(map[string]map[string]domain.CatalogEntry{
		"telkomsel": {"10k": {Price: 11000, SKU: "s10"}},
	}, []string{"QRIS"})
	notifier := &stubNotifier{}
	dispatcher := &stubDispatcher{}
	notifications := application.NewNotifications(notifier, time.Second)

	orders := application.NewOrderService(repo, catalog, gw, tracer)
	callbacks := application.NewCallbackProcessor(repo, notifications, dispatcher, tracer)
	commands := application.NewCommandService(orders, notifications, tracer)

	mux := http.NewServeMux()
	NewTopupHandler(orders, callbacks, commands, tracer).RegisterRoutes(mux)
	return &testServer{mux: mux, repo: repo, notifier: notifier, dispatcher: dispatcher}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, req)
	return rr
}

func TestPlaceAndGetOrder(t *testing.T) {
	s := newTestServer(t, stubGateway{})

	rr := s.do(http.MethodPost, "/topup", `{"phone":"081234567890","provider":"telkomsel","denomination":"10k","method":"qris"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("POST /topup status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var placed application.PlaceOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &placed); err != nil {
		t.Fatal(err)
	}
	if placed.OrderID == "" || placed.PaymentStatus != domain.PaymentUnpaid || !strings.HasPrefix(placed.CheckoutReference, "https://pay.example/") {
		t.Fatalf("response = %+v", placed)
	}

	rr = s.do(http.MethodGet, "/topup/"+placed.OrderID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rr.Code)
	}
	var view application.OrderView
	json.Unmarshal(rr.Body.Bytes(), &view)
	if view.FulfillmentStatus != domain.FulfillmentWaitingPayment || view.Amount != 11000 {
		t.Fatalf("view = %+v", view)
	}
	if strings.Contains(rr.Body.String(), "fulfillment_proof") {
		t.Error("fulfillment_proof must be omitted until SUCCESS")
	}
}

func TestPlaceOrderErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		gw   port.PaymentGateway
		body string
		want int
	}{
		{"bad json", stubGateway{}, `{`, http.StatusBadRequest},
		{"unsupported method", stubGateway{}, `{"phone":"081234567890","provider":"telkomsel","denomination":"10k","method":"BTC"}`, http.StatusBadRequest},
		{"unknown product", stubGateway{}, `{"phone":"081234567890","provider":"indosat","denomination":"10k","method":"QRIS"}`, http.StatusNotFound},
		{"unavailable denomination", stubGateway{}, `{"phone":"081234567890","provider":"telkomsel","denomination":"50k","method":"QRIS"}`, http.StatusConflict},
		{"invalid account", stubGateway{}, `{"phone":"0000000","provider":"telkomsel","denomination":"10k","method":"QRIS"}`, http.StatusBadRequest},
		{"invoice failure", stubGateway{err: errors.New("down")}, `{"phone":"081234567890","provider":"telkomsel","denomination":"10k","method":"QRIS"}`, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.gw)
			rr := s.do(http.MethodPost, "/topup", tt.body)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d, body = %s", rr.Code, tt.want, rr.Body.String())
			}
			list, _ := s.repo.List(context.Background(), domain.OrderFilter{})
			if len(list) != 0 {
				t.Fatal("rejected order must not be stored")
			}
		})
	}
}

func TestGetOrderNotFound(t *testing.T) {
	s := newTestServer(t, stubGateway{})
	if rr := s.do(http.MethodGet, "/topup/nope", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCallbackEndpoint(t *testing.T) {
	s := newTestServer(t, stubGateway{})
	rr := s.do(http.MethodPost, "/topup", `{"phone":"081234567890","provider":"telkomsel","denomination":"10k","method":"QRIS"}`)
	var placed application.PlaceOrderResponse
	json.Unmarshal(rr.Body.Bytes(), &placed)

	body := `{"merchant_ref":"` + placed.OrderID + `","status":"PAID","payment_method":"QRIS"}`
	for i := 0; i < 3; i++ {
		rr = s.do(http.MethodPost, "/callback", body)
		if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != `{"success":true}` {
			t.Fatalf("delivery %d: %d %s", i, rr.Code, rr.Body.String())
		}
	}
	if len(s.dispatcher.ids) != 1 {
		t.Fatalf("dispatched %d times, want 1", len(s.dispatcher.ids))
	}

	rr = s.do(http.MethodPost, "/callback", `{"merchant_ref":"ghost","status":"PAID"}`)
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != `{"success":false}` {
		t.Fatalf("unknown order: %d %s", rr.Code, rr.Body.String())
	}
}

func TestWebhookEndpoint(t *testing.T) {
	s := newTestServer(t, stubGateway{})

	rr := s.do(http.MethodPost, "/webhook", `{"event_type":"message_received","data":{"from":"628111@c.us","body":"topup telkomsel 10k ke 081234567890 via qris"}}`)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "sent") {
		t.Fatalf("webhook: %d %s", rr.Code, rr.Body.String())
	}
	if len(s.notifier.sent) != 1 || !strings.HasPrefix(s.notifier.sent[0], "628111: ") {
		t.Fatalf("replies = %v", s.notifier.sent)
	}

	rr = s.do(http.MethodPost, "/webhook", `{"event_type":"message_received","data":{"from":"628111@c.us","body":"hi","fromMe":true}}`)
	if !strings.Contains(rr.Body.String(), "ignored") {
		t.Fatalf("fromMe: %s", rr.Body.String())
	}
}

func TestAdminListOrders(t *testing.T) {
	s := newTestServer(t, stubGateway{})
	for i := 0; i < 3; i++ {
		s.do(http.MethodPost, "/topup", `{"phone":"081234567890","provider":"telkomsel","denomination":"10k","method":"QRIS"}`)
	}

	rr := s.do(http.MethodGet, "/admin/api/orders?payment_status=unpaid&limit=2", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp struct {
		Orders []application.OrderView `json:"orders"`
		Count  int                     `json:"count"`
	}
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Count != 2 || len(resp.Orders) != 2 {
		t.Fatalf("resp = %+v", resp)
	}

	if rr := s.do(http.MethodGet, "/admin/api/orders?fulfillment_status=bogus", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bogus filter status = %d", rr.Code)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.Wrap(domain.ErrUnavailableDenomination, "x"), http.StatusConflict},
		{domain.ErrUnknownProduct, http.StatusNotFound},
		{domain.ErrOrderNotFound, http.StatusNotFound},
		{domain.ErrUnsupportedMethod, http.StatusBadRequest},
		{domain.ErrInvalidTargetAccount, http.StatusBadRequest},
		{errors.Wrap(domain.ErrInvoiceFailed, "timeout"), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
