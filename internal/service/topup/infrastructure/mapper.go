package infrastructure

import (
	"database/sql"

	"topup/internal/service/topup/domain"
)

// ToDomainOrder 将数据库模型转换为领域模型
func ToDomainOrder(model *OrderModel) *domain.Order {
	if model == nil {
		return nil
	}
	return &domain.Order{
		ID:                model.ID,
		RecipientRef:      model.RecipientRef,
		TargetAccount:     model.TargetAccount,
		Product:           domain.ProductKey{Provider: model.Provider, Denomination: model.Denomination},
		Amount:            model.Amount,
		PaymentMethod:     model.PaymentMethod,
		PaymentStatus:     domain.PaymentStatus(model.PaymentStatus),
		FulfillmentStatus: domain.FulfillmentStatus(model.FulfillmentStatus),
		CheckoutReference: model.CheckoutReference,
		FulfillmentProof:  model.FulfillmentProof.String,
		CreatedAt:         model.CreatedAt,
		UpdatedAt:         model.UpdatedAt,
	}
}

// FromDomainOrder 将领域模型转换为数据库模型 (用于插入)
func FromDomainOrder(o *domain.Order) *OrderModel {
	if o == nil {
		return nil
	}
	return &OrderModel{
		ID:                o.ID,
		RecipientRef:      o.RecipientRef,
		TargetAccount:     o.TargetAccount,
		Provider:          o.Product.Provider,
		Denomination:      o.Product.Denomination,
		Amount:            o.Amount,
		PaymentMethod:     o.PaymentMethod,
		PaymentStatus:     string(o.PaymentStatus),
		FulfillmentStatus: string(o.FulfillmentStatus),
		CheckoutReference: o.CheckoutReference,
		FulfillmentProof:  nullString(o.FulfillmentProof),
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
