package provider

import (
	"context"
	"sync"

	"github.com/vibast-solutions/ms-go-checkout/app/currency"
	"github.com/vibast-solutions/ms-go-checkout/app/entity"
	"github.com/vibast-solutions/ms-go-checkout/app/httpclient"
)

// RedirectCaptureDriver implements the PayPal-style flow. The third-party
// button handles authorization in-page; its lifecycle callbacks arrive as
// external capture events that the orchestrator resolves directly, so
// PollOnce is always pending. Button state is an explicit field here, not a
// closure flag: a previous instance is torn down before a new one is armed.
type RedirectCaptureDriver struct {
	gateway gatewayClient
	rates   currency.RateSource

	mu           sync.Mutex
	buttonActive bool
}

func NewRedirectCaptureDriver(client *httpclient.Client, baseURL string, rates currency.RateSource) *RedirectCaptureDriver {
	return &RedirectCaptureDriver{
		gateway: newGatewayClient(client, baseURL),
		rates:   rates,
	}
}

func (d *RedirectCaptureDriver) Method() entity.Method {
	return entity.MethodRedirectCapture
}

// Eligible reports whether the button can be rendered for the currency:
// either the currency is accepted outright or the fallback rate is known.
func (d *RedirectCaptureDriver) Eligible(code string) bool {
	if currency.IsSupportedBy(entity.MethodRedirectCapture, code) {
		return true
	}
	fallback := currency.FallbackCurrency(entity.MethodRedirectCapture)
	if fallback == "" {
		return false
	}
	_, ok := d.rates.Rate(fallback)
	return ok
}

func (d *RedirectCaptureDriver) Initiate(ctx context.Context, attempt *entity.PaymentAttempt, _ Contact) (*InitiateResult, error) {
	if !d.Eligible(attempt.Currency) {
		return nil, ErrNotEligible
	}

	// The charge may differ from the attempt's display currency: an
	// unsupported selection is recomputed from the base amount with the
	// fallback currency's own rate before the order payload is built.
	chargeAmount, chargeCurrency, err := currency.ChargeAmount(entity.MethodRedirectCapture, entity.CurrencyContext{
		Code:       attempt.Currency,
		Rate:       attempt.ConversionRate,
		BaseAmount: attempt.BaseAmount,
	}, d.rates)
	if err != nil {
		return nil, err
	}

	d.rearm()

	resp, err := d.gateway.initiate(ctx, &initiatePaymentRequest{
		OrderID:  attempt.OrderID,
		Provider: string(entity.MethodRedirectCapture),
		Amount:   chargeAmount,
		Currency: chargeCurrency,
	})
	if err != nil {
		d.Teardown()
		return nil, err
	}
	return &InitiateResult{Reference: resp.Reference}, nil
}

func (d *RedirectCaptureDriver) PollOnce(context.Context, *entity.PaymentAttempt) (PollOutcome, error) {
	// Outcome arrives as an external capture event, never by polling.
	return PollPending, nil
}

func (d *RedirectCaptureDriver) Finalize(ctx context.Context, attempt *entity.PaymentAttempt, contact Contact) (string, error) {
	defer d.Teardown()

	// The process payload must describe the charge that was actually placed,
	// so the fallback recompute from Initiate is repeated here rather than
	// trusting the attempt's display currency.
	chargeAmount, chargeCurrency, err := currency.ChargeAmount(entity.MethodRedirectCapture, entity.CurrencyContext{
		Code:       attempt.Currency,
		Rate:       attempt.ConversionRate,
		BaseAmount: attempt.BaseAmount,
	}, d.rates)
	if err != nil {
		return "", err
	}
	chargeRate := attempt.ConversionRate
	if chargeCurrency != attempt.Currency {
		if rate, ok := d.rates.Rate(chargeCurrency); ok {
			chargeRate = rate
		}
	}

	return d.gateway.process(ctx, &processPaymentRequest{
		OrderID:           attempt.OrderID,
		PaymentMethod:     string(entity.MethodRedirectCapture),
		ProviderReference: attempt.ProviderReference,
		Email:             contact.Email,
		Amount:            chargeAmount,
		Currency:          chargeCurrency,
		ConversionRate:    chargeRate,
	})
}

// ButtonActive reports whether a button instance is currently armed.
func (d *RedirectCaptureDriver) ButtonActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buttonActive
}

// Teardown releases the current button instance. Safe to call when none is
// armed.
func (d *RedirectCaptureDriver) Teardown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buttonActive = false
}

// rearm tears down any previous button instance before arming a new one so
// rapid method/currency toggling cannot leave two live instances.
func (d *RedirectCaptureDriver) rearm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buttonActive = true
}
