package infrastructure

import (
	"context"
	"sort"
	"sync"
	"time"

	"topup/internal/service/topup/domain"
)

// MemoryOrderRepository 单实例部署和测试使用，进程退出即丢失
type MemoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	now    func() time.Time
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{
		orders: make(map[string]domain.Order),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryOrderRepository) Create(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; ok {
		return domain.ErrDuplicateID
	}
	r.orders[order.ID] = *order
	return nil
}

// FindByID 返回副本，调用方的修改不会影响存储
func (r *MemoryOrderRepository) FindByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return &o, nil
}

func (r *MemoryOrderRepository) CompareAndSetPaymentStatus(_ context.Context, id string, expected, next domain.PaymentStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	if o.PaymentStatus != expected {
		return false, nil
	}
	o.PaymentStatus = next
	o.UpdatedAt = r.now()
	r.orders[id] = o
	return true, nil
}

func (r *MemoryOrderRepository) SetFulfillmentStatus(_ context.Context, id string, status domain.FulfillmentStatus, proof string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o.FulfillmentStatus = status
	o.FulfillmentProof = proof
	o.UpdatedAt = r.now()
	r.orders[id] = o
	return nil
}

func (r *MemoryOrderRepository) List(_ context.Context, filter domain.OrderFilter) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Order, 0)
	for _, o := range r.orders {
		o := o
		if filter.Matches(&o) {
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit := filter.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
