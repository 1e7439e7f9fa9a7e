package adapter

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"topup/internal/pkg/httpclient"
)

type UltraMsgConfig struct {
	BaseURL    string
	InstanceID string
	Token      string
}

// UltraMsgHTTPAdapter 通过 UltraMsg 的 WhatsApp 接口发送文本消息，实现了 port.Notifier
type UltraMsgHTTPAdapter struct {
	client *httpclient.Client
	cfg    UltraMsgConfig
}

func NewUltraMsgHTTPAdapter(client *httpclient.Client, cfg UltraMsgConfig) *UltraMsgHTTPAdapter {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &UltraMsgHTTPAdapter{client: client, cfg: cfg}
}

type ultraMsgChat struct {
	Token string `json:"token"`
	To    string `json:"to"`
	Body  string `json:"body"`
}

type ultraMsgResponse struct {
	Sent  string `json:"sent"`
	Error any    `json:"error,omitempty"`
}

func (a *UltraMsgHTTPAdapter) Notify(ctx context.Context, recipient, message string) error {
	url := a.cfg.BaseURL + "/" + a.cfg.InstanceID + "/messages/chat"
	var resp ultraMsgResponse
	err := a.client.PostJSON(ctx, url, nil, ultraMsgChat{
		Token: a.cfg.Token,
		To:    strings.TrimSuffix(recipient, "@c.us"),
		Body:  message,
	}, &resp)
	if err != nil {
		return errors.Wrap(err, "ultramsg send")
	}
	if resp.Error != nil {
		return errors.Errorf("ultramsg rejected message: %v", resp.Error)
	}
	return nil
}
