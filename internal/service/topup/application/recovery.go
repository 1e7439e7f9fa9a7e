package application

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"topup/internal/pkg/logger"
	"topup/internal/service/topup/domain"
	"topup/internal/service/topup/domain/port"
)

const resumeScanLimit = 10000

// ResumePending 把已支付但履约未结束的订单重新派发，返回成功派发的数量。
// dispatcher 实现了 WaitingDispatcher 时队列满会等待，而不是丢弃订单。
// UNRESOLVED 不在此列，需要运维通过 topupctl 手工触发。
func ResumePending(ctx context.Context, repo domain.OrderRepository, dispatcher port.ReconcileDispatcher, concurrency int) (int, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(int64(concurrency))
	log := logger.Ctx(ctx)
	dispatch := dispatcher.Dispatch
	if w, ok := dispatcher.(port.WaitingDispatcher); ok {
		dispatch = w.DispatchWait
	}

	var (
		wg         sync.WaitGroup
		dispatched atomic.Int64
	)

	for _, fs := range []domain.FulfillmentStatus{domain.FulfillmentWaitingPayment, domain.FulfillmentSubmitted} {
		orders, err := repo.List(ctx, domain.OrderFilter{
			PaymentStatus:     domain.PaymentPaid,
			FulfillmentStatus: fs,
			Limit:             resumeScanLimit,
		})
		if err != nil {
			wg.Wait()
			return int(dispatched.Load()), errors.Wrapf(err, "list paid orders in %s", fs)
		}

		for _, o := range orders {
			if err := ctx.Err(); err != nil {
				wg.Wait()
				return int(dispatched.Load()), err
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				wg.Wait()
				return int(dispatched.Load()), err
			}
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				defer sem.Release(1)
				if err := dispatch(ctx, id); err != nil {
					log.Error().Err(err).Str("order", id).Msg("Failed to resume reconciliation")
					return
				}
				dispatched.Add(1)
			}(o.ID)
		}
	}

	wg.Wait()
	n := int(dispatched.Load())
	log.Info().Int("dispatched", n).Msg("Pending reconciliations resumed")
	return n, nil
}

// SweepPeriodically 立即扫描一次，之后每隔 interval 再扫描，直到 ctx 结束。
// 派发失败或扫描中断的订单会在下一轮被重新捡起；interval <= 0 时只扫描一次。
func SweepPeriodically(ctx context.Context, repo domain.OrderRepository, dispatcher port.ReconcileDispatcher, concurrency int, interval time.Duration) error {
	log := logger.Ctx(ctx)
	sweep := func() error {
		n, err := ResumePending(ctx, repo, dispatcher, concurrency)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// 存储暂时不可用时等下一轮
			log.Error().Err(err).Int("resumed", n).Msg("Recovery sweep aborted")
		}
		return nil
	}

	if err := sweep(); err != nil {
		return err
	}
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := sweep(); err != nil {
				return err
			}
		}
	}
}
