package adapter

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"

	"topup/internal/pkg/httpclient"
	"topup/internal/service/topup/domain/port"
)

type DigiflazzConfig struct {
	BaseURL  string
	Username string
	APIKey   string
	Testing  bool
}

// DigiflazzHTTPAdapter 实现了 port.FulfillmentClient 接口。
// 提交和查询走同一个接口，ref_id 相同的请求在供应商侧是幂等的。
type DigiflazzHTTPAdapter struct {
	client *httpclient.Client
	cfg    DigiflazzConfig
}

func NewDigiflazzHTTPAdapter(client *httpclient.Client, cfg DigiflazzConfig) *DigiflazzHTTPAdapter {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &DigiflazzHTTPAdapter{client: client, cfg: cfg}
}

type digiflazzRequest struct {
	Username     string `json:"username"`
	BuyerSKUCode string `json:"buyer_sku_code"`
	CustomerNo   string `json:"customer_no"`
	RefID        string `json:"ref_id"`
	Sign         string `json:"sign"`
	Testing      bool   `json:"testing,omitempty"`
}

type digiflazzResponse struct {
	Data struct {
		RefID   string `json:"ref_id"`
		Status  string `json:"status"`
		SN      string `json:"sn"`
		Message string `json:"message"`
		RC      string `json:"rc"`
	} `json:"data"`
}

func (a *DigiflazzHTTPAdapter) Submit(ctx context.Context, sku, targetAccount, reference string) error {
	var resp digiflazzResponse
	if err := a.post(ctx, sku, targetAccount, reference, &resp); err != nil {
		return errors.Wrap(err, "digiflazz submit")
	}
	// 提交阶段供应商直接返回 Gagal 也算"已受理"，后续轮询会拿到同样的终态
	return nil
}

func (a *DigiflazzHTTPAdapter) PollStatus(ctx context.Context, reference string) (port.PollResult, error) {
	var resp digiflazzResponse
	if err := a.post(ctx, "", "", reference, &resp); err != nil {
		return port.PollResult{}, errors.Wrap(err, "digiflazz status")
	}
	return mapDigiflazzStatus(resp.Data.Status, resp.Data.SN, resp.Data.Message), nil
}

func (a *DigiflazzHTTPAdapter) post(ctx context.Context, sku, customerNo, refID string, out *digiflazzResponse) error {
	return a.client.PostJSON(ctx, a.cfg.BaseURL+"/v1/transaction", nil, digiflazzRequest{
		Username:     a.cfg.Username,
		BuyerSKUCode: sku,
		CustomerNo:   customerNo,
		RefID:        refID,
		Sign:         a.Sign(refID),
		Testing:      a.cfg.Testing,
	}, out)
}

// Sign = md5(username + key + ref_id)
func (a *DigiflazzHTTPAdapter) Sign(refID string) string {
	sum := md5.Sum([]byte(a.cfg.Username + a.cfg.APIKey + refID))
	return hex.EncodeToString(sum[:])
}

func mapDigiflazzStatus(status, sn, message string) port.PollResult {
	switch status {
	case "Sukses":
		return port.PollResult{Outcome: port.OutcomeSucceeded, Proof: strings.TrimSpace(sn), Message: message}
	case "Gagal":
		return port.PollResult{Outcome: port.OutcomeFailed, Message: message}
	default:
		return port.PollResult{Outcome: port.OutcomePending, Message: message}
	}
}
