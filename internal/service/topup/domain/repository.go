// internal/service/topup/domain/repository.go
package domain

import "context"

// OrderRepository 定义了订单聚合的持久化接口。
// 它位于领域层，但由基础设施层实现 (redis / mysql / memory)。
type OrderRepository interface {
	// Create 保存一个新订单，ID 已存在时返回 ErrDuplicateID。
	Create(ctx context.Context, order *Order) error

	// FindByID 根据 ID 查找订单，不存在时返回 ErrOrderNotFound。
	FindByID(ctx context.Context, id string) (*Order, error)

	// CompareAndSetPaymentStatus 仅当当前支付状态等于 expected 时原子地写入 next，返回是否发生了交换。
	// 回调幂等性完全依赖这个原语。
	CompareAndSetPaymentStatus(ctx context.Context, id string, expected, next PaymentStatus) (bool, error)

	// SetFulfillmentStatus 无条件写入履约结果。每个订单的履约阶段只有一个所有者，
	// 但写入对并发读必须是原子的。proof 仅在 SUCCESS 时非空。
	SetFulfillmentStatus(ctx context.Context, id string, status FulfillmentStatus, proof string) error

	// List 供管理端和运维工具查询，按创建时间倒序。
	List(ctx context.Context, filter OrderFilter) ([]*Order, error)
}

// OrderFilter 的零值字段表示不过滤
type OrderFilter struct {
	PaymentStatus     PaymentStatus
	FulfillmentStatus FulfillmentStatus
	Limit             int
}

const DefaultListLimit = 100

func (f OrderFilter) Matches(o *Order) bool {
	if f.PaymentStatus != "" && o.PaymentStatus != f.PaymentStatus {
		return false
	}
	if f.FulfillmentStatus != "" && o.FulfillmentStatus != f.FulfillmentStatus {
		return false
	}
	return true
}

func (f OrderFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}
