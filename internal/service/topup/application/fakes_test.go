package application

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace/noop"

	"topup/internal/service/topup/domain"
	"topup/internal/service/topup/domain/port"
)

const testPhone = "081234567890"

var testTracer = noop.NewTracerProvider().Tracer("test")

func testCatalog() *domain.Catalog {
	return domain.NewCatalog(map[string]map[string]domain.CatalogEntry{
		"telkomsel": {
			"10k": {Price: 11000, SKU: "s10"},
			"15k": {Price: 16000},
		},
		"xl": {
			"5k": {Price: 6200, SKU: "x5"},
		},
	}, []string{"QRIS", "OVO", "DANA"})
}

type fakeRepo struct {
	mu       sync.Mutex
	orders   map[string]domain.Order
	casCalls int
	setCalls []domain.FulfillmentStatus
	failSet  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{orders: make(map[string]domain.Order)}
}

func (r *fakeRepo) Create(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return domain.ErrDuplicateID
	}
	r.orders[o.ID] = *o
	return nil
}

func (r *fakeRepo) FindByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return &o, nil
}

func (r *fakeRepo) CompareAndSetPaymentStatus(_ context.Context, id string, expected, next domain.PaymentStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.casCalls++
	o, ok := r.orders[id]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	if o.PaymentStatus != expected {
		return false, nil
	}
	o.PaymentStatus = next
	r.orders[id] = o
	return true, nil
}

func (r *fakeRepo) SetFulfillmentStatus(_ context.Context, id string, status domain.FulfillmentStatus, proof string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSet != nil {
		return r.failSet
	}
	o, ok := r.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o.FulfillmentStatus = status
	o.FulfillmentProof = proof
	r.orders[id] = o
	r.setCalls = append(r.setCalls, status)
	return nil
}

func (r *fakeRepo) List(_ context.Context, f domain.OrderFilter) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Order
	for _, o := range r.orders {
		o := o
		if f.Matches(&o) {
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > f.EffectiveLimit() {
		out = out[:f.EffectiveLimit()]
	}
	return out, nil
}

func (r *fakeRepo) get(id string) domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[id]
}

func (r *fakeRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

// put 直接写入一个处于指定状态的订单
func (r *fakeRepo) put(id string, ps domain.PaymentStatus, fs domain.FulfillmentStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[id] = domain.Order{
		ID:                id,
		TargetAccount:     testPhone,
		Product:           domain.NewProductKey("telkomsel", "10k"),
		Amount:            11000,
		PaymentMethod:     "QRIS",
		PaymentStatus:     ps,
		FulfillmentStatus: fs,
		CheckoutReference: "https://pay.example/" + id,
		CreatedAt:         time.Unix(0, 0).UTC(),
	}
}

type fakeGateway struct {
	mu       sync.Mutex
	requests []port.InvoiceRequest
	err      error
}

func (g *fakeGateway) CreateInvoice(_ context.Context, req port.InvoiceRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return "", g.err
	}
	return "https://pay.example/" + req.OrderID, nil
}

type pollStep struct {
	res port.PollResult
	err error
}

// fakeFulfillment 按顺序返回预设的提交错误和轮询结果，用完之后一直返回 Pending
type fakeFulfillment struct {
	mu         sync.Mutex
	submitErrs []error
	polls      []pollStep
	submits    []string
	pollCount  int
}

func (f *fakeFulfillment) Submit(_ context.Context, sku, _, reference string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, sku+"/"+reference)
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		return err
	}
	return nil
}

func (f *fakeFulfillment) PollStatus(context.Context, string) (port.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCount++
	if len(f.polls) == 0 {
		return port.PollResult{Outcome: port.OutcomePending}, nil
	}
	step := f.polls[0]
	f.polls = f.polls[1:]
	return step.res, step.err
}

func pending() pollStep { return pollStep{res: port.PollResult{Outcome: port.OutcomePending}} }

func succeeded(sn string) pollStep {
	return pollStep{res: port.PollResult{Outcome: port.OutcomeSucceeded, Proof: sn}}
}

type sentMessage struct {
	Recipient string
	Message   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, recipient, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{Recipient: recipient, Message: message})
	return n.err
}

func (n *recordingNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.ids = append(d.ids, id)
	return nil
}

func (d *recordingDispatcher) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ids...)
}

type busyLocker struct{}

func (busyLocker) TryLock(context.Context, string) (func(), error) {
	return nil, port.ErrLockNotObtained
}

var errTransport = errors.New("connection reset by peer")
