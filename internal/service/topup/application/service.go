// internal/service/topup/application/service.go
package application

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/ttacon/libphonenumber"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"topup/internal/pkg/logger"
	"topup/internal/service/topup/domain"
	"topup/internal/service/topup/domain/port"
)

// OrderService 负责下单和查询，不会触发任何对账副作用。
type OrderService struct {
	repo        domain.OrderRepository
	catalog     *domain.Catalog
	gateway     port.PaymentGateway
	tracer      trace.Tracer
	validate    *validator.Validate
	phoneRegion string
	newID       func() string
	now         func() time.Time
}

type OrderServiceOption func(*OrderService)

func WithPhoneRegion(region string) OrderServiceOption {
	return func(s *OrderService) { s.phoneRegion = region }
}

func WithIDGenerator(newID func() string) OrderServiceOption {
	return func(s *OrderService) { s.newID = newID }
}

func WithClock(now func() time.Time) OrderServiceOption {
	return func(s *OrderService) { s.now = now }
}

func NewOrderService(repo domain.OrderRepository, catalog *domain.Catalog, gateway port.PaymentGateway, tracer trace.Tracer, opts ...OrderServiceOption) *OrderService {
	s := &OrderService{
		repo:        repo,
		catalog:     catalog,
		gateway:     gateway,
		tracer:      tracer,
		validate:    validator.New(),
		phoneRegion: "ID",
		newID:       func() string { return uuid.New().String() },
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceOrder 校验支付方式和商品，向网关申请账单，然后以 UNPAID/WAITING_PAYMENT 落库。
// 任何一步失败都不会写入订单。
func (s *OrderService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.PlaceOrder")
	defer span.End()

	if req == nil {
		req = &PlaceOrderRequest{}
	}
	placement, err := s.checkPlacement(req)
	if err != nil {
		ordersPlaced.WithLabelValues("", "rejected").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "order rejected")
		logger.Ctx(ctx).Info().Err(err).Str("provider", req.Provider).Str("denomination", req.Denomination).
			Str("method", req.Method).Msg("Order rejected")
		return nil, err
	}
	provider := placement.Product.Provider

	id := s.newID()
	span.SetAttributes(
		attribute.String("order.id", id),
		attribute.String("order.product", placement.Product.String()),
		attribute.String("order.method", placement.PaymentMethod),
	)

	// 1. 向支付网关申请账单
	checkoutRef, err := s.gateway.CreateInvoice(ctx, port.InvoiceRequest{
		OrderID:       id,
		Amount:        placement.Amount,
		Method:        placement.PaymentMethod,
		Product:       placement.Product,
		CustomerPhone: placement.TargetAccount,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrInvoiceFailed) {
			err = errors.Wrap(domain.ErrInvoiceFailed, err.Error())
		}
		ordersPlaced.WithLabelValues(provider, "invoice_failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "invoice creation failed")
		logger.Ctx(ctx).Error().Err(err).Str("order", id).Msg("Failed to create invoice")
		return nil, err
	}
	span.AddEvent("Invoice created.")

	// 2. 构造并持久化订单
	order, err := domain.NewOrder(id, placement, checkoutRef, s.now())
	if err != nil {
		ordersPlaced.WithLabelValues(provider, "error").Inc()
		span.RecordError(err)
		return nil, err
	}
	if err := s.repo.Create(ctx, order); err != nil {
		ordersPlaced.WithLabelValues(provider, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save order")
		logger.Ctx(ctx).Error().Err(err).Str("order", id).Msg("Failed to save order")
		return nil, errors.Wrap(err, "save order")
	}

	ordersPlaced.WithLabelValues(provider, "placed").Inc()
	span.AddEvent("Order saved with UNPAID/WAITING_PAYMENT.")
	logger.Ctx(ctx).Info().Str("order", id).Str("product", placement.Product.String()).
		Int64("amount", placement.Amount).Msg("Order placed")
	return order, nil
}

// checkPlacement 依次校验请求格式、支付方式、商品和手机号
func (s *OrderService) checkPlacement(req *PlaceOrderRequest) (domain.Placement, error) {
	if err := s.validate.Struct(req); err != nil {
		return domain.Placement{}, errors.Wrap(domain.ErrInvalidRequest, err.Error())
	}
	method, err := s.catalog.Method(req.Method)
	if err != nil {
		return domain.Placement{}, err
	}
	key := domain.NewProductKey(req.Provider, req.Denomination)
	price, err := s.catalog.Price(key)
	if err != nil {
		return domain.Placement{}, err
	}
	phone, err := NormalizePhone(req.Phone, s.phoneRegion)
	if err != nil {
		return domain.Placement{}, err
	}
	return domain.Placement{
		TargetAccount: phone,
		RecipientRef:  strings.TrimSpace(req.RecipientRef),
		Product:       key,
		Amount:        price,
		PaymentMethod: method,
	}, nil
}

// GetOrder 订单不存在时返回 domain.ErrOrderNotFound
func (s *OrderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", id))

	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return order, nil
}

// ListOrders 供管理端只读查询
func (s *OrderService) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.ListOrders")
	defer span.End()

	orders, err := s.repo.List(ctx, filter)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("orders.count", len(orders)))
	return orders, nil
}

// NormalizePhone 校验手机号并转换为本地格式的纯数字，例如 081234567890
func NormalizePhone(raw, region string) (string, error) {
	num, err := libphonenumber.Parse(strings.TrimSpace(raw), region)
	if err != nil {
		return "", errors.Wrapf(domain.ErrInvalidTargetAccount, "%q: %v", raw, err)
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", errors.Wrapf(domain.ErrInvalidTargetAccount, "%q", raw)
	}
	national := libphonenumber.Format(num, libphonenumber.NATIONAL)
	var b strings.Builder
	for _, r := range national {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}
