package infrastructure

import (
	"context"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"topup/internal/pkg/logger"
	"topup/internal/service/topup/domain/port"
	"topup/internal/zookeeper"
)

const reconcileLockPrefix = "topup:reconcile:"

// RedisOrderLocker 用 redislock 保证同一订单同一时刻只有一个对账者。
// 持有期间每隔 TTL/2 续期，对账进程崩溃后锁在 TTL 内自动过期。
type RedisOrderLocker struct {
	locker       *redislock.Client
	ttl          time.Duration
	refreshEvery time.Duration
}

func NewRedisOrderLocker(rdb goredis.UniversalClient, ttl time.Duration) *RedisOrderLocker {
	return &RedisOrderLocker{locker: redislock.New(rdb), ttl: ttl, refreshEvery: ttl / 2}
}

func (l *RedisOrderLocker) TryLock(ctx context.Context, orderID string) (func(), error) {
	lock, err := l.locker.Obtain(ctx, reconcileLockPrefix+orderID, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, port.ErrLockNotObtained
	}
	if err != nil {
		return nil, errors.Wrap(err, "obtain redis lock")
	}

	// 对账可能因为取消而结束，续期和释放都不能复用已取消的 ctx
	bg := context.WithoutCancel(ctx)
	stop := make(chan struct{})
	stopped := make(chan struct{})
	go l.keepAlive(bg, lock, orderID, stop, stopped)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-stopped
			if err := lock.Release(bg); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				logger.Ctx(ctx).Warn().Err(err).Str("order", orderID).Msg("Failed to release reconcile lock")
			}
		})
	}, nil
}

// keepAlive 续期失败说明锁已经过期或被别人持有，不再重试
func (l *RedisOrderLocker) keepAlive(ctx context.Context, lock *redislock.Lock, orderID string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	if l.refreshEvery <= 0 {
		return
	}
	ticker := time.NewTicker(l.refreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := lock.Refresh(ctx, l.ttl, nil); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Str("order", orderID).Msg("Failed to refresh reconcile lock")
				return
			}
		}
	}
}

// ZookeeperOrderLocker 基于临时顺序节点，会话断开时锁自动释放
type ZookeeperOrderLocker struct {
	conn *zookeeper.Conn
}

func NewZookeeperOrderLocker(conn *zookeeper.Conn) *ZookeeperOrderLocker {
	return &ZookeeperOrderLocker{conn: conn}
}

func (l *ZookeeperOrderLocker) TryLock(ctx context.Context, orderID string) (func(), error) {
	lock, err := zookeeper.NewDistributedLock(l.conn, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "prepare zookeeper lock")
	}
	if err := lock.TryLock(); err != nil {
		if errors.Is(err, zookeeper.ErrLockHeld) {
			return nil, port.ErrLockNotObtained
		}
		return nil, errors.Wrap(err, "obtain zookeeper lock")
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("order", orderID).Msg("Failed to release zookeeper lock")
		}
	}, nil
}
