package interfaces

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"topup/internal/pkg/mq"
	"topup/internal/service/topup/domain"
)

// fakeReader 依次吐出预设消息，之后阻塞到 ctx 结束或被关闭
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	closed    chan struct{}
	once      sync.Once
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	return &fakeReader{msgs: msgs, closed: make(chan struct{})}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case <-r.closed:
		return kafka.Message{}, errors.New("reader closed")
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReconcileConsumer(t *testing.T) {
	good, _ := json.Marshal(domain.ReconcileRequested{OrderID: "o1"})
	reader := newFakeReader(
		kafka.Message{Offset: 1, Value: good},
		kafka.Message{Offset: 2, Value: []byte("not json")},
		kafka.Message{Offset: 3, Value: []byte(`{"order_id":""}`)},
	)
	dispatcher := &stubDispatcher{}

	consumer := NewConsumerAdapter("reconcile", reader, ReconcileRequestProcessor(dispatcher), mq.NewFailureHandler(nil))
	consumer.Start(context.Background())
	waitFor(t, func() bool { return reader.commits() == 3 })
	consumer.Stop(context.Background())

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if len(dispatcher.ids) != 1 || dispatcher.ids[0] != "o1" {
		t.Fatalf("dispatched = %v", dispatcher.ids)
	}
}

func TestNotificationConsumer(t *testing.T) {
	event, _ := json.Marshal(domain.NotificationEvent{Recipient: "628111", Message: "hello"})
	reader := newFakeReader(kafka.Message{Offset: 7, Value: event})
	notifier := &stubNotifier{}

	consumer := NewConsumerAdapter("notification", reader, NotificationProcessor(notifier), mq.NewFailureHandler(nil))
	ctx, cancel := context.WithCancel(context.Background())
	consumer.Start(ctx)
	waitFor(t, func() bool { return reader.commits() == 1 })
	cancel()
	consumer.Stop(context.Background())

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.sent) != 1 || notifier.sent[0] != "628111: hello" {
		t.Fatalf("sent = %v", notifier.sent)
	}
}
