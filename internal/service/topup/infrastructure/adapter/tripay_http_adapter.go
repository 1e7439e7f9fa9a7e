package adapter

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"topup/internal/pkg/httpclient"
	"topup/internal/service/topup/domain"
	"topup/internal/service/topup/domain/port"
)

type TripayConfig struct {
	BaseURL      string
	APIKey       string
	PrivateKey   string
	MerchantCode string
	CallbackURL  string
	ReturnURL    string
}

// TripayHTTPAdapter 实现了 port.PaymentGateway 接口。
type TripayHTTPAdapter struct {
	client *httpclient.Client
	cfg    TripayConfig
}

// NewTripayHTTPAdapter 创建一个新的支付网关适配器。
func NewTripayHTTPAdapter(client *httpclient.Client, cfg TripayConfig) *TripayHTTPAdapter {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &TripayHTTPAdapter{client: client, cfg: cfg}
}

type tripayItem struct {
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

type tripayInvoiceRequest struct {
	Method        string       `json:"method"`
	MerchantRef   string       `json:"merchant_ref"`
	Amount        int64        `json:"amount"`
	CustomerName  string       `json:"customer_name"`
	CustomerEmail string       `json:"customer_email"`
	CustomerPhone string       `json:"customer_phone"`
	OrderItems    []tripayItem `json:"order_items"`
	CallbackURL   string       `json:"callback_url,omitempty"`
	ReturnURL     string       `json:"return_url,omitempty"`
	Signature     string       `json:"signature"`
}

type tripayInvoiceResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Reference   string `json:"reference"`
		CheckoutURL string `json:"checkout_url"`
	} `json:"data"`
}

// CreateInvoice 返回 checkout_url 作为 checkout reference
func (a *TripayHTTPAdapter) CreateInvoice(ctx context.Context, req port.InvoiceRequest) (string, error) {
	payload := tripayInvoiceRequest{
		Method:        req.Method,
		MerchantRef:   req.OrderID,
		Amount:        req.Amount,
		CustomerName:  "Top-up customer",
		CustomerEmail: "customer@topup.local",
		CustomerPhone: req.CustomerPhone,
		OrderItems: []tripayItem{{
			SKU:      req.Product.String(),
			Name:     fmt.Sprintf("TopUp %s %s", req.Product.Denomination, req.Product.Provider),
			Price:    req.Amount,
			Quantity: 1,
		}},
		CallbackURL: a.cfg.CallbackURL,
		ReturnURL:   a.cfg.ReturnURL,
		Signature:   a.Signature(req.OrderID, req.Amount),
	}

	var resp tripayInvoiceResponse
	err := a.client.PostJSON(ctx, a.cfg.BaseURL+"/transaction/create",
		map[string]string{"Authorization": "Bearer " + a.cfg.APIKey}, payload, &resp)
	if err != nil {
		return "", errors.Wrap(domain.ErrInvoiceFailed, err.Error())
	}
	if !resp.Success || resp.Data.CheckoutURL == "" {
		return "", errors.Wrapf(domain.ErrInvoiceFailed, "tripay rejected invoice: %s", resp.Message)
	}
	return resp.Data.CheckoutURL, nil
}

// Signature = HMAC-SHA256(private key, merchant code + merchant ref + amount)
func (a *TripayHTTPAdapter) Signature(orderID string, amount int64) string {
	mac := hmac.New(sha256.New, []byte(a.cfg.PrivateKey))
	mac.Write([]byte(a.cfg.MerchantCode + orderID + strconv.FormatInt(amount, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
