package provider

import (
	"context"
	"fmt"

	"github.com/vibast-solutions/ms-go-checkout/app/entity"
	"github.com/vibast-solutions/ms-go-checkout/app/httpclient"
)

// PushPaymentDriver implements the mobile-money flow: the customer
// authorizes on their handset and the client learns the outcome only by
// polling.
type PushPaymentDriver struct {
	gateway gatewayClient
}

func NewPushPaymentDriver(client *httpclient.Client, baseURL string) *PushPaymentDriver {
	return &PushPaymentDriver{gateway: newGatewayClient(client, baseURL)}
}

func (d *PushPaymentDriver) Method() entity.Method {
	return entity.MethodPushPayment
}

func (d *PushPaymentDriver) Initiate(ctx context.Context, attempt *entity.PaymentAttempt, contact Contact) (*InitiateResult, error) {
	resp, err := d.gateway.initiate(ctx, &initiatePaymentRequest{
		OrderID:  attempt.OrderID,
		Provider: string(entity.MethodPushPayment),
		Phone:    contact.Phone,
		Amount:   attempt.Amount,
		Currency: attempt.Currency,
	})
	if err != nil {
		return nil, err
	}
	if resp.CheckoutRequestID == "" {
		return nil, fmt.Errorf("%w: missing checkout_request_id", ErrRejected)
	}
	return &InitiateResult{Reference: resp.CheckoutRequestID}, nil
}

func (d *PushPaymentDriver) PollOnce(ctx context.Context, attempt *entity.PaymentAttempt) (PollOutcome, error) {
	return d.gateway.status(ctx, attempt.ProviderReference)
}

func (d *PushPaymentDriver) Finalize(ctx context.Context, attempt *entity.PaymentAttempt, contact Contact) (string, error) {
	return d.gateway.process(ctx, &processPaymentRequest{
		OrderID:           attempt.OrderID,
		PaymentMethod:     string(entity.MethodPushPayment),
		ProviderReference: attempt.ProviderReference,
		Phone:             contact.Phone,
		Amount:            attempt.Amount,
		Currency:          attempt.Currency,
		ConversionRate:    attempt.ConversionRate,
	})
}
