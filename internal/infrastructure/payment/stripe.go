package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"rafflesystem/internal/config"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

type stripeProvider struct {
	api           *client.API
	webhookSecret string
}

func NewStripeProvider(cfg config.StripeConfig) Provider {
	return &stripeProvider{
		api:           client.New(cfg.SecretKey, nil),
		webhookSecret: cfg.WebhookSecret,
	}
}

func (p *stripeProvider) CreateIntent(ctx context.Context, req *IntentRequest) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("创建 Stripe 支付意图失败: %w", err)
	}

	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		AmountMinor:  pi.Amount,
		Currency:     string(pi.Currency),
	}, nil
}

// ParseWebhook 用共享密钥校验 Stripe-Signature，通过后才解析事件内容
func (p *stripeProvider) ParseWebhook(payload []byte, signature string) (*Event, error) {
	return parseStripeEvent(payload, signature, p.webhookSecret)
}

func parseStripeEvent(payload []byte, signature, secret string) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{
		ID:   event.ID,
		Type: string(event.Type),
	}
	if out.Type != EventPaymentSucceeded || event.Data == nil {
		return out, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("解析 payment_intent 失败: %w", err)
	}

	out.PaymentRef = pi.ID
	out.AmountMinor = pi.Amount
	out.Currency = string(pi.Currency)
	out.Metadata = pi.Metadata
	out.PaymentMethod = "card"
	if len(pi.PaymentMethodTypes) > 0 {
		out.PaymentMethod = pi.PaymentMethodTypes[0]
	}
	return out, nil
}
