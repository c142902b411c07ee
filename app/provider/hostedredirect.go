package provider

import (
	"context"
	"fmt"

	"github.com/vibast-solutions/ms-go-checkout/app/entity"
	"github.com/vibast-solutions/ms-go-checkout/app/httpclient"
)

// HostedRedirectDriver implements the Paystack-style flow: initiation yields
// an authorization URL the browser navigates to, and confirmation happens
// out of band via the recovery polling path on a later page load.
type HostedRedirectDriver struct {
	gateway gatewayClient
}

func NewHostedRedirectDriver(client *httpclient.Client, baseURL string) *HostedRedirectDriver {
	return &HostedRedirectDriver{gateway: newGatewayClient(client, baseURL)}
}

func (d *HostedRedirectDriver) Method() entity.Method {
	return entity.MethodHostedRedirect
}

func (d *HostedRedirectDriver) Initiate(ctx context.Context, attempt *entity.PaymentAttempt, contact Contact) (*InitiateResult, error) {
	resp, err := d.gateway.initiate(ctx, &initiatePaymentRequest{
		OrderID:  attempt.OrderID,
		Provider: string(entity.MethodHostedRedirect),
		Email:    contact.Email,
		Amount:   attempt.Amount,
		Currency: attempt.Currency,
	})
	if err != nil {
		return nil, err
	}
	if resp.AuthorizationURL == "" || resp.Reference == "" {
		return nil, fmt.Errorf("%w: missing authorization_url or reference", ErrRejected)
	}
	return &InitiateResult{Reference: resp.Reference, RedirectURL: resp.AuthorizationURL}, nil
}

func (d *HostedRedirectDriver) PollOnce(ctx context.Context, attempt *entity.PaymentAttempt) (PollOutcome, error) {
	return d.gateway.status(ctx, attempt.ProviderReference)
}

func (d *HostedRedirectDriver) Finalize(ctx context.Context, attempt *entity.PaymentAttempt, contact Contact) (string, error) {
	return d.gateway.process(ctx, &processPaymentRequest{
		OrderID:           attempt.OrderID,
		PaymentMethod:     string(entity.MethodHostedRedirect),
		ProviderReference: attempt.ProviderReference,
		Email:             contact.Email,
		Amount:            attempt.Amount,
		Currency:          attempt.Currency,
		ConversionRate:    attempt.ConversionRate,
	})
}
