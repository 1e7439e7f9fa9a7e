package application

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"topup/internal/pkg/logger"
	"topup/internal/service/topup/domain"
)

const usageReply = "Format salah. Gunakan: topup telkomsel 10k ke 0812xxx via qris"

var topupCommandPattern = regexp.MustCompile(`^topup\s+(\S+)\s+(\S+)\s+ke\s+(\S+)\s+via\s+(\S+)$`)

// TopupCommand 是 "topup <provider> <denomination> ke <phone> via <method>" 的解析结果
type TopupCommand struct {
	Provider     string
	Denomination string
	Phone        string
	Method       string
}

func ParseTopupCommand(text string) (TopupCommand, bool) {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	m := topupCommandPattern.FindStringSubmatch(normalized)
	if m == nil {
		return TopupCommand{}, false
	}
	return TopupCommand{
		Provider:     m[1],
		Denomination: m[2],
		Phone:        m[3],
		Method:       strings.ToUpper(m[4]),
	}, true
}

// IncomingMessage 是 WhatsApp 网关推送的 webhook 事件
type IncomingMessage struct {
	EventType string `json:"event_type"`
	Data      struct {
		From   string `json:"from"`
		Body   string `json:"body"`
		FromMe bool   `json:"fromMe"`
		Self   bool   `json:"self"`
	} `json:"data"`
}

// CommandService 让用户直接在 WhatsApp 里下单，回复通过 Notifier 发回给发送者
type CommandService struct {
	orders        *OrderService
	notifications *Notifications
	tracer        trace.Tracer
}

func NewCommandService(orders *OrderService, notifications *Notifications, tracer trace.Tracer) *CommandService {
	return &CommandService{orders: orders, notifications: notifications, tracer: tracer}
}

// HandleMessage 返回 false 表示事件被忽略，没有发送任何回复
func (s *CommandService) HandleMessage(ctx context.Context, msg *IncomingMessage) bool {
	if msg == nil || msg.EventType != "message_received" || msg.Data.FromMe || msg.Data.Self {
		return false
	}
	sender := strings.TrimSuffix(strings.TrimSpace(msg.Data.From), "@c.us")
	if sender == "" || strings.TrimSpace(msg.Data.Body) == "" {
		return false
	}

	ctx, span := s.tracer.Start(ctx, "app.HandleCommand")
	defer span.End()
	span.SetAttributes(attribute.String("command.sender", sender))

	reply := s.execute(ctx, sender, msg.Data.Body)
	s.notifications.Send(ctx, "command_reply", sender, reply)
	return true
}

func (s *CommandService) execute(ctx context.Context, sender, body string) string {
	cmd, ok := ParseTopupCommand(body)
	if !ok {
		return usageReply
	}

	order, err := s.orders.PlaceOrder(ctx, &PlaceOrderRequest{
		Phone:        cmd.Phone,
		Provider:     cmd.Provider,
		Denomination: cmd.Denomination,
		Method:       cmd.Method,
		RecipientRef: sender,
	})
	if err != nil {
		logger.Ctx(ctx).Info().Err(err).Str("sender", sender).Msg("Order from chat command rejected")
		return fmt.Sprintf("Gagal topup: %s", rejectionReason(err))
	}
	return fmt.Sprintf("Transaksi berhasil dibuat!\nSilakan bayar:\n%s", order.CheckoutReference)
}

// rejectionReason 只向用户暴露业务原因，内部错误统一成一句话
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnsupportedMethod):
		return "metode pembayaran tidak didukung"
	case errors.Is(err, domain.ErrUnavailableDenomination):
		return "nominal tidak tersedia"
	case errors.Is(err, domain.ErrUnknownProduct):
		return "provider tidak dikenal"
	case errors.Is(err, domain.ErrInvalidTargetAccount):
		return "nomor tujuan tidak valid"
	case errors.Is(err, domain.ErrInvalidRequest):
		return usageReply
	default:
		return "sistem sedang sibuk, coba lagi nanti"
	}
}
