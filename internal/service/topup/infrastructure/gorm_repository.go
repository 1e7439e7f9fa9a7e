package infrastructure

import (
	"context"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"topup/internal/pkg/logger"
	"topup/internal/service/topup/domain"
)

// OpenMySQL 建立连接池并安装 otelgorm 插件，SQL 会作为子 span 出现在链路中
func OpenMySQL(dsn string, autoMigrate bool) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetMaxIdleConns(25)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}
	if err := db.Use(otelgorm.NewPlugin()); err != nil {
		logger.Ctx(context.Background()).Warn().Err(err).Msg("db connected but failed to install otelgorm plugin")
	}
	if autoMigrate {
		if err := db.AutoMigrate(&OrderModel{}); err != nil {
			return nil, errors.Wrap(err, "migrate topup_orders")
		}
	}
	return db, nil
}

// GormOrderRepository 是 OrderRepository 的 MySQL 实现
type GormOrderRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormOrderRepository 创建一个新的 GORM 仓储实例
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *GormOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	err := r.db.WithContext(ctx).Create(FromDomainOrder(order)).Error
	if isDuplicateKeyErr(err) {
		return domain.ErrDuplicateID
	}
	return errors.Wrap(err, "insert order")
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, errors.Wrap(err, "select order")
	}
	return ToDomainOrder(&model), nil
}

// CompareAndSetPaymentStatus 依靠 UPDATE ... WHERE payment_status = ? 的行锁实现 CAS
func (r *GormOrderRepository) CompareAndSetPaymentStatus(ctx context.Context, id string, expected, next domain.PaymentStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ? AND payment_status = ?", id, string(expected)).
		Updates(map[string]interface{}{
			"payment_status": string(next),
			"updated_at":     r.now(),
		})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "update payment status")
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	// 0 行：要么订单不存在，要么状态已经不是 expected
	exists, err := r.exists(ctx, id)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, domain.ErrOrderNotFound
	}
	return false, nil
}

func (r *GormOrderRepository) SetFulfillmentStatus(ctx context.Context, id string, status domain.FulfillmentStatus, proof string) error {
	res := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"fulfillment_status": string(status),
			"fulfillment_proof":  nullString(proof),
			"updated_at":         r.now(),
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "update fulfillment status")
	}
	if res.RowsAffected == 0 {
		exists, err := r.exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
	}
	return nil
}

func (r *GormOrderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]*domain.Order, error) {
	q := r.db.WithContext(ctx).Model(&OrderModel{})
	if filter.PaymentStatus != "" {
		q = q.Where("payment_status = ?", string(filter.PaymentStatus))
	}
	if filter.FulfillmentStatus != "" {
		q = q.Where("fulfillment_status = ?", string(filter.FulfillmentStatus))
	}

	var models []OrderModel
	if err := q.Order("created_at DESC").Limit(filter.EffectiveLimit()).Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	out := make([]*domain.Order, 0, len(models))
	for i := range models {
		out = append(out, ToDomainOrder(&models[i]))
	}
	return out, nil
}

func (r *GormOrderRepository) exists(ctx context.Context, id string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&OrderModel{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, errors.Wrap(err, "count order")
	}
	return n > 0, nil
}

func isDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
