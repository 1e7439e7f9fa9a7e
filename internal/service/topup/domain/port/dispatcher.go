package port

import (
	"context"

	"github.com/pkg/errors"
)

var ErrLockNotObtained = errors.New("reconcile lock held by another owner")

// ReconcileDispatcher 把一个已支付订单交给后台对账，只负责入队，不等待对账结束。
type ReconcileDispatcher interface {
	Dispatch(ctx context.Context, orderID string) error
}

// WaitingDispatcher 在队列满时等待空位而不是立即失败，恢复扫描优先使用它
type WaitingDispatcher interface {
	DispatchWait(ctx context.Context, orderID string) error
}

// OrderLocker 保证跨实例时同一订单只有一个对账者。
// 拿不到锁时返回 ErrLockNotObtained。
type OrderLocker interface {
	TryLock(ctx context.Context, orderID string) (release func(), err error)
}
