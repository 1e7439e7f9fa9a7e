package port

import "context"

// Outcome 是一次履约状态查询的结果
type Outcome int

const (
	OutcomePending Outcome = iota + 1
	OutcomeSucceeded
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// PollResult 中的 Proof 只在 OutcomeSucceeded 时有意义 (供应商的 SN)
type PollResult struct {
	Outcome Outcome
	Proof   string
	Message string
}

// FulfillmentClient 是履约供应商的出站端口。
// reference 就是订单 ID，供应商以此去重，重复提交不会重复扣款。
type FulfillmentClient interface {
	Submit(ctx context.Context, sku, targetAccount, reference string) error
	PollStatus(ctx context.Context, reference string) (PollResult, error)
}
