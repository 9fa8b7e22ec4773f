package payment

import (
	"context"
	"errors"
)

const EventPaymentSucceeded = "payment_intent.succeeded"

var ErrInvalidSignature = errors.New("webhook 签名校验失败")

type IntentRequest struct {
	AmountMinor int64
	Currency    string
	Metadata    map[string]string
}

type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	AmountMinor  int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// Event 已验签的支付回调，只保留对账需要的字段
type Event struct {
	ID            string
	Type          string
	PaymentRef    string
	AmountMinor   int64
	Currency      string
	PaymentMethod string
	Metadata      map[string]string
}

// Provider 支付渠道：出站创建支付意图，入站验签并解析回调
type Provider interface {
	CreateIntent(ctx context.Context, req *IntentRequest) (*Intent, error)
	ParseWebhook(payload []byte, signature string) (*Event, error)
}
