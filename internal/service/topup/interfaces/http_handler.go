package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"topup/internal/pkg/logger"
	"topup/internal/service/topup/application"
	"topup/internal/service/topup/domain"
)

const maxBodyBytes = 1 << 20

var httpDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "topup_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status code",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"route", "code"},
)

func init() {
	prometheus.MustRegister(httpDuration)
}

// TopupHandler 封装了 topup 服务的 HTTP 处理器
type TopupHandler struct {
	orders    *application.OrderService
	callbacks *application.CallbackProcessor
	commands  *application.CommandService // 为 nil 时不注册 /webhook
	tracer    trace.Tracer
}

// NewTopupHandler 创建一个新的 HTTP 处理器实例
func NewTopupHandler(orders *application.OrderService, callbacks *application.CallbackProcessor, commands *application.CommandService, tracer trace.Tracer) *TopupHandler {
	return &TopupHandler{orders: orders, callbacks: callbacks, commands: commands, tracer: tracer}
}

// RegisterHealthRoutes 注册健康检查和 Prometheus 端点
func RegisterHealthRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *TopupHandler) RegisterRoutes(mux *http.ServeMux) {
	RegisterHealthRoutes(mux)

	mux.HandleFunc("POST /topup", h.instrument("place_order", h.placeOrderHandler))
	mux.HandleFunc("GET /topup/{id}", h.instrument("get_order", h.getOrderHandler))
	mux.HandleFunc("POST /callback", h.instrument("payment_callback", h.callbackHandler))
	mux.HandleFunc("GET /admin/api/orders", h.instrument("admin_list_orders", h.listOrdersHandler))
	if h.commands != nil {
		mux.HandleFunc("POST /webhook", h.instrument("whatsapp_webhook", h.webhookHandler))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument 提取上游的追踪上下文，开启 server span 并记录耗时
func (h *TopupHandler) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := h.tracer.Start(ctx, "http."+route, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.String("http.route", route), attribute.Int("http.status_code", rec.status))
		httpDuration.WithLabelValues(route, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
	}
}

func (h *TopupHandler) placeOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req application.PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	order, err := h.orders.PlaceOrder(r.Context(), &req)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, application.NewPlaceOrderResponse(order))
}

func (h *TopupHandler) getOrderHandler(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, application.NewOrderView(order))
}

// callbackHandler 只有存储故障时返回 5xx，让网关重试；其余情况一律 200
func (h *TopupHandler) callbackHandler(w http.ResponseWriter, r *http.Request) {
	var cb application.PaymentCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]bool{"success": false})
		return
	}
	result, err := h.callbacks.HandlePaymentEvent(r.Context(), &cb)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]bool{"success": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": result.Accepted()})
}

func (h *TopupHandler) webhookHandler(w http.ResponseWriter, r *http.Request) {
	var msg application.IncomingMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "invalid"})
		return
	}
	status := "ignored"
	if h.commands.HandleMessage(r.Context(), &msg) {
		status = "sent"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (h *TopupHandler) listOrdersHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter domain.OrderFilter

	if raw := q.Get("payment_status"); raw != "" {
		ps, ok := domain.ParsePaymentStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown payment_status")
			return
		}
		filter.PaymentStatus = ps
	}
	if raw := q.Get("fulfillment_status"); raw != "" {
		fs, ok := domain.ParseFulfillmentStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown fulfillment_status")
			return
		}
		filter.FulfillmentStatus = fs
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	orders, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	views := make([]*application.OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, application.NewOrderView(o))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": views, "count": len(views)})
}

// errorStatus 把领域错误映射为 HTTP 状态码。
// ErrUnavailableDenomination 同时是 ErrUnknownProduct，必须先判断。
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnavailableDenomination):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnknownProduct), errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnsupportedMethod),
		errors.Is(err, domain.ErrInvalidTargetAccount),
		errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvoiceFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		detail = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Ctx(context.Background()).Warn().Err(err).Msg("Failed to write response body")
	}
}
