package entity

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Method string

const (
	MethodPushPayment     Method = "push_payment"
	MethodRedirectCapture Method = "redirect_capture"
	MethodHostedRedirect  Method = "hosted_redirect"
)

func (m Method) Valid() bool {
	switch m {
	case MethodPushPayment, MethodRedirectCapture, MethodHostedRedirect:
		return true
	default:
		return false
	}
}

type Phase string

const (
	PhaseIdle                 Phase = "idle"
	PhaseInitiating           Phase = "initiating"
	PhaseAwaitingConfirmation Phase = "awaiting_provider_confirmation"
	PhaseFinalizing           Phase = "finalizing"
	PhaseSucceeded            Phase = "succeeded"
	PhaseFailed               Phase = "failed"
	PhaseTimedOut             Phase = "timed_out"
	PhaseCancelled            Phase = "cancelled"
)

func (p Phase) Terminal() bool {
	switch p {
	case PhaseSucceeded, PhaseFailed, PhaseTimedOut, PhaseCancelled:
		return true
	default:
		return false
	}
}

var phaseTransitions = map[Phase][]Phase{
	PhaseIdle:                 {PhaseInitiating},
	PhaseInitiating:           {PhaseAwaitingConfirmation, PhaseFailed},
	PhaseAwaitingConfirmation: {PhaseFinalizing, PhaseFailed, PhaseCancelled, PhaseTimedOut},
	PhaseFinalizing:           {PhaseSucceeded, PhaseFailed},
}

func CanTransition(from, to Phase) bool {
	for _, next := range phaseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

var ErrReferenceAlreadySet = errors.New("provider reference already set")

// PaymentAttempt is one checkout submission. Amounts are frozen from the
// session's currency context at initiation time and never recomputed.
type PaymentAttempt struct {
	ID      string
	OrderID string
	Method  Method

	BaseAmount     decimal.Decimal
	Amount         decimal.Decimal
	Currency       string
	ConversionRate decimal.Decimal

	ProviderReference string
	Phase             Phase
	AttemptCount      int
	CreatedAt         time.Time
}

// SetProviderReference assigns the provider reference exactly once.
func (a *PaymentAttempt) SetProviderReference(ref string) error {
	if a.ProviderReference != "" {
		return ErrReferenceAlreadySet
	}
	a.ProviderReference = ref
	return nil
}

func (a *PaymentAttempt) Terminal() bool {
	return a.Phase.Terminal()
}

// CheckoutState is the snapshot written on every user-visible mutation and
// read back once on session load to resume an interrupted attempt.
type CheckoutState struct {
	OrderID       string          `json:"order_id"`
	BaseAmount    decimal.Decimal `json:"base_amount"`
	Method        Method          `json:"method,omitempty"`
	Currency      string          `json:"currency,omitempty"`
	Rate          decimal.Decimal `json:"rate"`
	Phone         string          `json:"phone,omitempty"`
	Email         string          `json:"email,omitempty"`
	TermsAccepted bool            `json:"terms_accepted"`

	LastProviderReference string `json:"last_provider_reference,omitempty"`
	LastPhase             Phase  `json:"last_phase,omitempty"`
}

// CurrencyContext is owned by the checkout session; the orchestrator only
// ever sees the values frozen into a PaymentAttempt.
type CurrencyContext struct {
	Code       string
	Rate       decimal.Decimal
	BaseAmount decimal.Decimal
}
