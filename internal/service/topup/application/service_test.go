package application

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"topup/internal/service/topup/domain"
)

func newTestOrderService(repo *fakeRepo, gw *fakeGateway) *OrderService {
	seq := 0
	return NewOrderService(repo, testCatalog(), gw, testTracer,
		WithIDGenerator(func() string {
			seq++
			return "order-" + string(rune('0'+seq))
		}),
		WithClock(func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }),
	)
}

func TestPlaceOrder(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	svc := newTestOrderService(repo, gw)

	order, err := svc.PlaceOrder(context.Background(), &PlaceOrderRequest{
		Phone:        testPhone,
		Provider:     "Telkomsel",
		Denomination: "10K",
		Method:       "qris",
	})
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}

	if order.ID != "order-1" {
		t.Errorf("ID = %q", order.ID)
	}
	if order.Amount != 11000 {
		t.Errorf("Amount = %d, want 11000", order.Amount)
	}
	if order.PaymentMethod != "QRIS" {
		t.Errorf("PaymentMethod = %q", order.PaymentMethod)
	}
	if order.PaymentStatus != domain.PaymentUnpaid || order.FulfillmentStatus != domain.FulfillmentWaitingPayment {
		t.Errorf("initial status = %s/%s", order.PaymentStatus, order.FulfillmentStatus)
	}
	if order.CheckoutReference != "https://pay.example/order-1" {
		t.Errorf("CheckoutReference = %q", order.CheckoutReference)
	}
	if order.TargetAccount != testPhone {
		t.Errorf("TargetAccount = %q", order.TargetAccount)
	}

	stored, err := repo.FindByID(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("order not persisted: %v", err)
	}
	if stored.Product != domain.NewProductKey("telkomsel", "10k") {
		t.Errorf("stored product = %+v", stored.Product)
	}
	if len(gw.requests) != 1 || gw.requests[0].Amount != 11000 || gw.requests[0].OrderID != "order-1" {
		t.Errorf("invoice requests = %+v", gw.requests)
	}
}

func TestPlaceOrderRejections(t *testing.T) {
	valid := PlaceOrderRequest{Phone: testPhone, Provider: "telkomsel", Denomination: "10k", Method: "QRIS"}

	tests := []struct {
		name   string
		mutate func(r *PlaceOrderRequest)
		want   error
	}{
		{"unsupported method", func(r *PlaceOrderRequest) { r.Method = "BITCOIN" }, domain.ErrUnsupportedMethod},
		{"unknown provider", func(r *PlaceOrderRequest) { r.Provider = "indosat" }, domain.ErrUnknownProduct},
		{"unknown denomination", func(r *PlaceOrderRequest) { r.Denomination = "50k" }, domain.ErrUnavailableDenomination},
		{"invalid phone", func(r *PlaceOrderRequest) { r.Phone = "12345abc" }, domain.ErrInvalidTargetAccount},
		{"missing provider", func(r *PlaceOrderRequest) { r.Provider = "" }, domain.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			gw := &fakeGateway{}
			svc := newTestOrderService(repo, gw)

			req := valid
			tt.mutate(&req)
			_, err := svc.PlaceOrder(context.Background(), &req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if repo.count() != 0 {
				t.Errorf("rejected order must not be stored")
			}
			if len(gw.requests) != 0 {
				t.Errorf("rejected order must not create an invoice")
			}
		})
	}
}

func TestPlaceOrderInvoiceFailure(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestOrderService(repo, &fakeGateway{err: errors.New("gateway timeout")})

	_, err := svc.PlaceOrder(context.Background(), &PlaceOrderRequest{
		Phone: testPhone, Provider: "xl", Denomination: "5k", Method: "DANA",
	})
	if !errors.Is(err, domain.ErrInvoiceFailed) {
		t.Fatalf("err = %v, want ErrInvoiceFailed", err)
	}
	if repo.count() != 0 {
		t.Fatal("no order may exist after invoice failure")
	}
}

func TestPlaceOrderNilRequest(t *testing.T) {
	svc := newTestOrderService(newFakeRepo(), &fakeGateway{})
	if _, err := svc.PlaceOrder(context.Background(), nil); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("err = %v", err)
	}
}

func TestGetOrder(t *testing.T) {
	repo := newFakeRepo()
	repo.put("a", domain.PaymentPaid, domain.FulfillmentSubmitted)
	svc := newTestOrderService(repo, &fakeGateway{})

	got, err := svc.GetOrder(context.Background(), "a")
	if err != nil || got.FulfillmentStatus != domain.FulfillmentSubmitted {
		t.Fatalf("GetOrder = %+v, %v", got, err)
	}
	if _, err := svc.GetOrder(context.Background(), "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("missing order err = %v", err)
	}
}

func TestListOrders(t *testing.T) {
	repo := newFakeRepo()
	repo.put("a", domain.PaymentPaid, domain.FulfillmentUnresolved)
	repo.put("b", domain.PaymentPaid, domain.FulfillmentSuccess)
	repo.put("c", domain.PaymentUnpaid, domain.FulfillmentWaitingPayment)
	svc := newTestOrderService(repo, &fakeGateway{})

	got, err := svc.ListOrders(context.Background(), domain.OrderFilter{FulfillmentStatus: domain.FulfillmentUnresolved})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("ListOrders = %+v", got)
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"081234567890", "081234567890", true},
		{"+6281234567890", "081234567890", true},
		{" 0812-3456-7890 ", "081234567890", true},
		{"12", "", false},
		{"not a phone", "", false},
	}
	for _, tt := range tests {
		got, err := NormalizePhone(tt.in, "ID")
		if tt.ok && (err != nil || got != tt.want) {
			t.Errorf("NormalizePhone(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
		if !tt.ok && !errors.Is(err, domain.ErrInvalidTargetAccount) {
			t.Errorf("NormalizePhone(%q) err = %v, want ErrInvalidTargetAccount", tt.in, err)
		}
	}
}
