package infrastructure

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"topup/internal/pkg/redis"
	"topup/internal/service/topup/domain"
)

const (
	createOrderScriptName    = "topup_create_order"
	casPaymentScriptName     = "topup_cas_payment"
	setFulfillmentScriptName = "topup_set_fulfillment"

	// hash tag 保证集群模式下订单 hash 和索引 zset 落在同一个 slot
	orderKeyPrefix = "{topup}:order:"
	orderIndexKey  = "{topup}:orders"

	listBatchSize = 200
)

// RedisOrderRepository 每个订单一个 hash，另有按创建时间排序的 zset 索引。
// 所有写入都通过 Lua 脚本完成，单个订单上的读改写是原子的。
type RedisOrderRepository struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisOrderRepository 在创建时预加载所有 Lua 脚本
func NewRedisOrderRepository(client *redis.Client) (*RedisOrderRepository, error) {
	scripts := map[string]string{
		createOrderScriptName:    createOrderScript,
		casPaymentScriptName:     casPaymentScript,
		setFulfillmentScriptName: setFulfillmentScript,
	}
	for name, content := range scripts {
		if err := client.LoadScriptFromContent(name, content); err != nil {
			return nil, errors.Wrap(err, "failed to load order store script")
		}
	}
	return &RedisOrderRepository{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func orderKey(id string) string {
	return orderKeyPrefix + id
}

func (r *RedisOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	args := []interface{}{order.CreatedAt.UnixMilli(), order.ID}
	for field, value := range toHash(order) {
		args = append(args, field, value)
	}

	code, err := r.run(ctx, createOrderScriptName, []string{orderKey(order.ID), orderIndexKey}, args...)
	if err != nil {
		return err
	}
	switch code {
	case 1:
		return nil
	case 0:
		return domain.ErrDuplicateID
	default:
		return fmt.Errorf("unknown result code from create script: %d", code)
	}
}

func (r *RedisOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	fields, err := r.client.GetClient().HGetAll(ctx, orderKey(id)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "hgetall order %s", id)
	}
	if len(fields) == 0 {
		return nil, domain.ErrOrderNotFound
	}
	return fromHash(fields)
}

func (r *RedisOrderRepository) CompareAndSetPaymentStatus(ctx context.Context, id string, expected, next domain.PaymentStatus) (bool, error) {
	code, err := r.run(ctx, casPaymentScriptName, []string{orderKey(id)},
		string(expected), string(next), r.now().Format(time.RFC3339Nano))
	if err != nil {
		return false, err
	}
	switch code {
	case 1:
		return true, nil
	case 0:
		return false, nil
	case -1:
		return false, domain.ErrOrderNotFound
	default:
		return false, fmt.Errorf("unknown result code from cas script: %d", code)
	}
}

func (r *RedisOrderRepository) SetFulfillmentStatus(ctx context.Context, id string, status domain.FulfillmentStatus, proof string) error {
	code, err := r.run(ctx, setFulfillmentScriptName, []string{orderKey(id)},
		string(status), proof, r.now().Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	switch code {
	case 1:
		return nil
	case -1:
		return domain.ErrOrderNotFound
	default:
		return fmt.Errorf("unknown result code from fulfillment script: %d", code)
	}
}

// List 从索引倒序分批读取，再用 pipeline 批量 HGETALL 后在内存中过滤
func (r *RedisOrderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]*domain.Order, error) {
	rdb := r.client.GetClient()
	limit := filter.EffectiveLimit()
	out := make([]*domain.Order, 0)

	for start := int64(0); len(out) < limit; start += listBatchSize {
		ids, err := rdb.ZRevRange(ctx, orderIndexKey, start, start+listBatchSize-1).Result()
		if err != nil {
			return nil, errors.Wrap(err, "read order index")
		}
		if len(ids) == 0 {
			break
		}

		pipe := rdb.Pipeline()
		cmds := make([]*goredis.MapStringStringCmd, len(ids))
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, orderKey(id))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, errors.Wrap(err, "load orders")
		}

		for _, cmd := range cmds {
			fields := cmd.Val()
			if len(fields) == 0 {
				continue
			}
			o, err := fromHash(fields)
			if err != nil {
				return nil, err
			}
			if filter.Matches(o) {
				out = append(out, o)
				if len(out) == limit {
					break
				}
			}
		}
		if len(ids) < listBatchSize {
			break
		}
	}
	return out, nil
}

func (r *RedisOrderRepository) run(ctx context.Context, script string, keys []string, args ...interface{}) (int64, error) {
	result, err := r.client.RunScript(ctx, script, keys, args...)
	if err != nil {
		return 0, errors.Wrapf(err, "run %s", script)
	}
	code, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected result type from Lua script: %T", result)
	}
	return code, nil
}

func toHash(o *domain.Order) map[string]string {
	h := map[string]string{
		"order_id":           o.ID,
		"recipient_ref":      o.RecipientRef,
		"target_account":     o.TargetAccount,
		"provider":           o.Product.Provider,
		"denomination":       o.Product.Denomination,
		"amount":             strconv.FormatInt(o.Amount, 10),
		"payment_method":     o.PaymentMethod,
		"payment_status":     string(o.PaymentStatus),
		"fulfillment_status": string(o.FulfillmentStatus),
		"checkout_reference": o.CheckoutReference,
		"created_at":         o.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":         o.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if o.FulfillmentProof != "" {
		h["fulfillment_proof"] = o.FulfillmentProof
	}
	return h
}

func fromHash(h map[string]string) (*domain.Order, error) {
	amount, err := strconv.ParseInt(h["amount"], 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "order %s: bad amount", h["order_id"])
	}
	ps, ok := domain.ParsePaymentStatus(h["payment_status"])
	if !ok {
		return nil, fmt.Errorf("order %s: bad payment status %q", h["order_id"], h["payment_status"])
	}
	fs, ok := domain.ParseFulfillmentStatus(h["fulfillment_status"])
	if !ok {
		return nil, fmt.Errorf("order %s: bad fulfillment status %q", h["order_id"], h["fulfillment_status"])
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, h["created_at"])
	updatedAt, _ := time.Parse(time.RFC3339Nano, h["updated_at"])

	return &domain.Order{
		ID:                h["order_id"],
		RecipientRef:      h["recipient_ref"],
		TargetAccount:     h["target_account"],
		Product:           domain.ProductKey{Provider: h["provider"], Denomination: h["denomination"]},
		Amount:            amount,
		PaymentMethod:     h["payment_method"],
		PaymentStatus:     ps,
		FulfillmentStatus: fs,
		CheckoutReference: h["checkout_reference"],
		FulfillmentProof:  h["fulfillment_proof"],
		CreatedAt:         createdAt,
		UpdatedAt:         updatedAt,
	}, nil
}

var createOrderScript = `
-- KEYS[1]: 订单 hash, KEYS[2]: 按创建时间排序的索引
-- ARGV[1]: 创建时间 (毫秒), ARGV[2]: 订单 ID, ARGV[3..]: field value ...
if redis.call('exists', KEYS[1]) == 1 then
    return 0
end
redis.call('hset', KEYS[1], unpack(ARGV, 3))
redis.call('zadd', KEYS[2], ARGV[1], ARGV[2])
return 1
`

var casPaymentScript = `
-- KEYS[1]: 订单 hash
-- ARGV[1]: 期望的支付状态, ARGV[2]: 新状态, ARGV[3]: 更新时间
local current = redis.call('hget', KEYS[1], 'payment_status')
if not current then
    return -1
end
if current ~= ARGV[1] then
    return 0
end
redis.call('hset', KEYS[1], 'payment_status', ARGV[2], 'updated_at', ARGV[3])
return 1
`

var setFulfillmentScript = `
-- KEYS[1]: 订单 hash
-- ARGV[1]: 履约状态, ARGV[2]: proof (可为空), ARGV[3]: 更新时间
if redis.call('exists', KEYS[1]) == 0 then
    return -1
end
redis.call('hset', KEYS[1], 'fulfillment_status', ARGV[1], 'updated_at', ARGV[3])
if ARGV[2] == '' then
    redis.call('hdel', KEYS[1], 'fulfillment_proof')
else
    redis.call('hset', KEYS[1], 'fulfillment_proof', ARGV[2])
end
return 1
`
