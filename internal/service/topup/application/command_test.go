package application

import (
	"context"
	"strings"
	"testing"
	"time"

	"topup/internal/service/topup/domain"
)

func TestParseTopupCommand(t *testing.T) {
	tests := []struct {
		in   string
		want TopupCommand
		ok   bool
	}{
		{"topup telkomsel 10k ke 081234567890 via qris", TopupCommand{"telkomsel", "10k", "081234567890", "QRIS"}, true},
		{"  TopUp  XL 5K ke 0817000111  VIA Dana ", TopupCommand{"xl", "5k", "0817000111", "DANA"}, true},
		{"topup telkomsel 10k 081234567890 qris", TopupCommand{}, false},
		{"halo", TopupCommand{}, false},
		{"", TopupCommand{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseTopupCommand(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseTopupCommand(%q) = %+v, %v; want %+v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func newTestCommandService(repo *fakeRepo, n *recordingNotifier) *CommandService {
	return NewCommandService(newTestOrderService(repo, &fakeGateway{}), NewNotifications(n, time.Second), testTracer)
}

func incoming(from, body string) *IncomingMessage {
	msg := &IncomingMessage{EventType: "message_received"}
	msg.Data.From = from
	msg.Data.Body = body
	return msg
}

func TestHandleMessagePlacesOrder(t *testing.T) {
	repo := newFakeRepo()
	n := &recordingNotifier{}
	s := newTestCommandService(repo, n)

	if !s.HandleMessage(context.Background(), incoming("6281299990000@c.us", "topup telkomsel 10k ke 081234567890 via qris")) {
		t.Fatal("valid command should be handled")
	}
	msgs := n.messages()
	if len(msgs) != 1 || msgs[0].Recipient != "6281299990000" {
		t.Fatalf("replies = %+v", msgs)
	}
	if !strings.Contains(msgs[0].Message, "https://pay.example/order-1") {
		t.Errorf("reply = %q, want checkout link", msgs[0].Message)
	}

	o := repo.get("order-1")
	if o.RecipientRef != "6281299990000" || o.TargetAccount != testPhone {
		t.Errorf("order = %+v", o)
	}
	if o.PaymentStatus != domain.PaymentUnpaid {
		t.Errorf("payment status = %s", o.PaymentStatus)
	}
}

func TestHandleMessageUsageReply(t *testing.T) {
	repo := newFakeRepo()
	n := &recordingNotifier{}
	s := newTestCommandService(repo, n)

	s.HandleMessage(context.Background(), incoming("628111@c.us", "minta pulsa dong"))
	msgs := n.messages()
	if len(msgs) != 1 || msgs[0].Message != usageReply {
		t.Fatalf("replies = %+v", msgs)
	}
	if repo.count() != 0 {
		t.Fatal("no order for an unparseable command")
	}
}

func TestHandleMessageRejectedOrder(t *testing.T) {
	n := &recordingNotifier{}
	s := newTestCommandService(newFakeRepo(), n)

	s.HandleMessage(context.Background(), incoming("628111@c.us", "topup telkomsel 50k ke 081234567890 via qris"))
	msgs := n.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Message, "nominal tidak tersedia") {
		t.Fatalf("replies = %+v", msgs)
	}
}

func TestHandleMessageIgnored(t *testing.T) {
	n := &recordingNotifier{}
	s := newTestCommandService(newFakeRepo(), n)

	fromMe := incoming("628111@c.us", "topup telkomsel 10k ke 081234567890 via qris")
	fromMe.Data.FromMe = true
	other := incoming("628111@c.us", "topup telkomsel 10k ke 081234567890 via qris")
	other.EventType = "message_ack"

	for _, msg := range []*IncomingMessage{fromMe, other, incoming("", "hi"), nil} {
		if s.HandleMessage(context.Background(), msg) {
			t.Errorf("message %+v should be ignored", msg)
		}
	}
	if len(n.messages()) != 0 {
		t.Fatal("ignored events must not produce replies")
	}
}
