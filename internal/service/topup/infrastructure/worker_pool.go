package infrastructure

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"

	"topup/internal/pkg/logger"
)

var (
	ErrQueueFull   = errors.New("reconcile queue is full")
	ErrPoolStopped = errors.New("reconcile pool is stopped")
)

type job struct {
	orderID string
	sc      trace.SpanContext
}

// WorkerPool 是进程内的对账派发器：有界队列 + 固定数量的 worker。
// 同一订单在排队或执行期间重复派发会被合并。
type WorkerPool struct {
	workers int
	handle  func(ctx context.Context, orderID string) error
	queue   chan job

	mu       sync.Mutex
	inflight map[string]struct{}
	stopped  bool
	done     chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorkerPool(workers, queueSize int, handle func(ctx context.Context, orderID string) error) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}
	return &WorkerPool{
		workers:  workers,
		handle:   handle,
		queue:    make(chan job, queueSize),
		inflight: make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// Start ctx 被取消时 worker 在当前订单的下一个等待点退出
func (p *WorkerPool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-p.queue:
					p.run(ctx, id, j)
				}
			}
		}(i)
	}
	logger.Ctx(ctx).Info().Int("workers", p.workers).Int("queue", cap(p.queue)).Msg("Reconcile worker pool started")
}

func (p *WorkerPool) run(ctx context.Context, worker int, j job) {
	defer func() {
		p.mu.Lock()
		delete(p.inflight, j.orderID)
		p.mu.Unlock()
	}()

	// 链路挂在派发方之下，但生命周期跟随 pool
	if j.sc.IsValid() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, j.sc)
	}
	if err := p.handle(ctx, j.orderID); err != nil && ctx.Err() == nil {
		logger.Ctx(ctx).Error().Err(err).Str("order", j.orderID).Int("worker", worker).Msg("Reconciliation failed")
	}
}

// Dispatch 不阻塞；队列满时返回 ErrQueueFull，由恢复扫描兜底
func (p *WorkerPool) Dispatch(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrPoolStopped
	}
	if _, ok := p.inflight[orderID]; ok {
		return nil
	}

	select {
	case p.queue <- job{orderID: orderID, sc: trace.SpanContextFromContext(ctx)}:
		p.inflight[orderID] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

// DispatchWait 与 Dispatch 相同，但队列满时等待空位，直到 ctx 结束或 pool 停止。
// 供恢复扫描使用，扫描出来的订单不会因为队列满而丢掉。
func (p *WorkerPool) DispatchWait(ctx context.Context, orderID string) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrPoolStopped
	}
	if _, ok := p.inflight[orderID]; ok {
		p.mu.Unlock()
		return nil
	}
	// 先占位，等待期间的重复派发直接合并
	p.inflight[orderID] = struct{}{}
	p.mu.Unlock()

	var err error
	select {
	case p.queue <- job{orderID: orderID, sc: trace.SpanContextFromContext(ctx)}:
		return nil
	case <-ctx.Done():
		err = ctx.Err()
	case <-p.done:
		err = ErrPoolStopped
	}

	p.mu.Lock()
	delete(p.inflight, orderID)
	p.mu.Unlock()
	return err
}

// Stop 取消所有进行中的对账并等待 worker 退出，订单保持最后写入的状态
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.done)
	}
	p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}
