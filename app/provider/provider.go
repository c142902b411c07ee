package provider

import (
	"context"
	"errors"

	"github.com/vibast-solutions/ms-go-checkout/app/entity"
)

var (
	ErrRejected         = errors.New("provider rejected the request")
	ErrFinalizeRejected = errors.New("finalization rejected by server")
	ErrNotEligible      = errors.New("method is not eligible for the selected currency")
)

type PollOutcome string

const (
	PollPending   PollOutcome = "pending"
	PollSucceeded PollOutcome = "succeeded"
	PollFailed    PollOutcome = "failed"
	PollCancelled PollOutcome = "cancelled"
)

// Contact carries the method-specific customer detail validated upstream by
// the checkout session.
type Contact struct {
	Phone string
	Email string
}

// InitiateResult is the provider's answer to a successful initiation.
// Reference correlates all later polling and finalization; RedirectURL is
// set by hosted-redirect providers whose confirmation happens off-site.
type InitiateResult struct {
	Reference   string
	RedirectURL string
}

// Driver is the shared lifecycle contract the orchestrator drives. One
// implementation per payment method.
type Driver interface {
	Method() entity.Method
	Initiate(ctx context.Context, attempt *entity.PaymentAttempt, contact Contact) (*InitiateResult, error)
	PollOnce(ctx context.Context, attempt *entity.PaymentAttempt) (PollOutcome, error)
	Finalize(ctx context.Context, attempt *entity.PaymentAttempt, contact Contact) (string, error)
}
