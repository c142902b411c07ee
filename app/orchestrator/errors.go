package orchestrator

import (
	"errors"
	"fmt"

	"github.com/vibast-solutions/ms-go-checkout/app/httpclient"
	"github.com/vibast-solutions/ms-go-checkout/app/provider"
)

var (
	// ErrAttemptInFlight is the single-flight rejection: a second initiation
	// while one attempt is non-terminal is refused, never queued.
	ErrAttemptInFlight = errors.New("a payment attempt is already in flight")

	ErrNoAttempt      = errors.New("no active payment attempt")
	ErrStaleReference = errors.New("reference does not match the current attempt")

	ErrProviderRejected = errors.New("payment provider rejected the request")
	ErrNetworkTimeout   = errors.New("payment request timed out")
	ErrPollExhausted    = errors.New("payment confirmation did not arrive in time")
	// ErrFinalizationRejected means the provider reported success but the
	// store refused to confirm the order: money or authorization may already
	// have moved provider-side, so it is surfaced distinctly from a plain
	// failure.
	ErrFinalizationRejected = errors.New("order finalization was rejected")
	ErrNetwork              = errors.New("network error")
)

// classify maps driver and transport errors onto the taxonomy surfaced to
// the UI layer. ErrNotEligible passes through untouched so the caller can
// render a fallback state instead of a failure banner.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, provider.ErrNotEligible):
		return err
	case errors.Is(err, httpclient.ErrTimeout):
		return fmt.Errorf("%w: %v", ErrNetworkTimeout, err)
	case errors.Is(err, provider.ErrFinalizeRejected):
		return fmt.Errorf("%w: %v", ErrFinalizationRejected, err)
	case errors.Is(err, provider.ErrRejected):
		return fmt.Errorf("%w: %v", ErrProviderRejected, err)
	default:
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
}

const (
	errCodeFinalizationRejected = "finalization_rejected"
	errCodeNetworkTimeout       = "network_timeout"
	errCodeProviderRejected     = "provider_rejected"
	errCodeNetwork              = "network_error"
)

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrFinalizationRejected):
		return errCodeFinalizationRejected
	case errors.Is(err, ErrNetworkTimeout):
		return errCodeNetworkTimeout
	case errors.Is(err, ErrProviderRejected):
		return errCodeProviderRejected
	default:
		return errCodeNetwork
	}
}

func errorFromCode(code, detail string) error {
	var base error
	switch code {
	case errCodeFinalizationRejected:
		base = ErrFinalizationRejected
	case errCodeNetworkTimeout:
		base = ErrNetworkTimeout
	case errCodeProviderRejected:
		base = ErrProviderRejected
	default:
		base = ErrNetwork
	}
	if detail == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, detail)
}
