// Package checkout holds the per-session view-model over the payment
// orchestrator: the selected method, currency context, contact details and
// terms acceptance. Every mutation persists a snapshot so an interrupted
// session can be restored, and all validation happens here so bad input
// never reaches the orchestrator or the network.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-checkout/app/currency"
	"github.com/vibast-solutions/ms-go-checkout/app/entity"
	"github.com/vibast-solutions/ms-go-checkout/app/feedback"
	"github.com/vibast-solutions/ms-go-checkout/app/orchestrator"
	"github.com/vibast-solutions/ms-go-checkout/app/provider"
	"github.com/vibast-solutions/ms-go-checkout/app/storage"
)

var ErrValidation = errors.New("validation failed")

const (
	formKey         = "form"
	defaultCurrency = "KES"
)

var (
	phonePattern = regexp.MustCompile(`^(?:\+?254|0)?(7\d{8})$`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// NormalizePhone canonicalizes the accepted Kenyan mobile formats
// ("0712345678", "712345678", "254712345678", "+254712345678") to
// "2547XXXXXXXX". Anything else is a validation error.
func NormalizePhone(raw string) (string, error) {
	match := phonePattern.FindStringSubmatch(strings.TrimSpace(raw))
	if match == nil {
		return "", fmt.Errorf("%w: enter a valid Safaricom number", ErrValidation)
	}
	return "254" + match[1], nil
}

func validEmail(raw string) bool {
	return emailPattern.MatchString(strings.TrimSpace(raw))
}

// Session is one customer's checkout. It owns the currency context; the
// orchestrator only ever sees values frozen into an attempt at submit time.
type Session struct {
	id       string
	registry *provider.Registry
	store    *storage.Facade
	rates    currency.RateSource
	orch     *orchestrator.Orchestrator
	feedback *feedback.Feedback
	logger   logrus.FieldLogger

	mu            sync.Mutex
	orderID       string
	baseAmount    decimal.Decimal
	method        entity.Method
	currencyCode  string
	rate          decimal.Decimal
	phone         string
	email         string
	termsAccepted bool
	lastReference string
	lastPhase     entity.Phase
}

func newSession(id string, state entity.CheckoutState, deps sessionDeps) *Session {
	s := &Session{
		id:            id,
		registry:      deps.registry,
		store:         deps.store,
		rates:         deps.rates,
		orch:          deps.orch,
		feedback:      deps.feedback,
		logger:        deps.logger.WithField("session_id", id),
		orderID:       state.OrderID,
		baseAmount:    state.BaseAmount,
		method:        state.Method,
		currencyCode:  state.Currency,
		rate:          state.Rate,
		phone:         state.Phone,
		email:         state.Email,
		termsAccepted: state.TermsAccepted,
		lastReference: state.LastProviderReference,
		lastPhase:     state.LastPhase,
	}
	if s.method == "" {
		s.method = entity.MethodPushPayment
	}
	if s.currencyCode == "" {
		s.currencyCode = defaultCurrency
		s.rate = deps.rateOr(defaultCurrency, decimal.NewFromInt(1))
	}
	return s
}

func (s *Session) ID() string { return s.id }

// SelectMethod switches the active payment method. When the selected
// currency is not usable with the new method and the method has no fallback
// currency, the context reverts to the store base currency instead of
// carrying an amount the method cannot charge.
func (s *Session) SelectMethod(method entity.Method) error {
	if !method.Valid() {
		return fmt.Errorf("%w: unknown payment method %q", ErrValidation, method)
	}
	if _, err := s.registry.Get(method); err != nil {
		return fmt.Errorf("%w: payment method %q is not enabled", ErrValidation, method)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.method = method
	if !currency.IsSupportedBy(method, s.currencyCode) && currency.FallbackCurrency(method) == "" {
		s.currencyCode = defaultCurrency
		if rate, ok := s.rates.Rate(defaultCurrency); ok {
			s.rate = rate
		} else {
			s.rate = decimal.NewFromInt(1)
		}
	}
	s.persistLocked()
	return nil
}

// SelectCurrency recomputes the currency context. Currencies without a
// configured rate, or unusable with the active method, are rejected.
func (s *Session) SelectCurrency(code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	rate, ok := s.rates.Rate(code)
	if !ok {
		return fmt.Errorf("%w: no conversion rate for %s", ErrValidation, code)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !currency.IsSupportedBy(s.method, code) && currency.FallbackCurrency(s.method) == "" {
		return fmt.Errorf("%w: %s is not available for %s", ErrValidation, code, s.method)
	}
	s.currencyCode = code
	s.rate = rate
	s.persistLocked()
	return nil
}

// SetContact stores the normalized phone and/or email. Empty values clear
// the field; presence requirements are enforced at submit time per method.
func (s *Session) SetContact(phone, email string) error {
	phone = strings.TrimSpace(phone)
	normalized := ""
	if phone != "" {
		var err error
		normalized, err = NormalizePhone(phone)
		if err != nil {
			return err
		}
	}
	email = strings.TrimSpace(email)
	if email != "" && !validEmail(email) {
		return fmt.Errorf("%w: enter a valid email address", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if phone != "" {
		s.phone = normalized
	}
	if email != "" {
		s.email = email
	}
	s.persistLocked()
	return nil
}

func (s *Session) SetTerms(accepted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.termsAccepted = accepted
	s.persistLocked()
}

// Submit validates the form and hands a frozen attempt request to the
// orchestrator. Validation failures never issue a network request.
func (s *Session) Submit(ctx context.Context) (*entity.PaymentAttempt, error) {
	s.mu.Lock()
	req := orchestrator.InitiateRequest{
		OrderID:    s.orderID,
		Method:     s.method,
		BaseAmount: s.baseAmount,
		Amount:     currency.Convert(s.baseAmount, s.rate).Round(2),
		Currency:   s.currencyCode,
		Rate:       s.rate,
		Contact:    provider.Contact{Phone: s.phone, Email: s.email},
	}
	terms := s.termsAccepted
	s.mu.Unlock()

	if !terms {
		return nil, fmt.Errorf("%w: accept the terms and conditions to continue", ErrValidation)
	}
	switch req.Method {
	case entity.MethodPushPayment:
		if req.Contact.Phone == "" {
			return nil, fmt.Errorf("%w: a phone number is required for mobile money", ErrValidation)
		}
	case entity.MethodHostedRedirect:
		if req.Contact.Email == "" {
			return nil, fmt.Errorf("%w: an email address is required for card payment", ErrValidation)
		}
	}

	return s.orch.Initiate(ctx, req)
}

// Capture feeds an externally observed redirect-capture outcome into the
// orchestrator.
func (s *Session) Capture(reference string, outcome provider.PollOutcome) error {
	return s.orch.ResolveExternal(reference, outcome)
}

func (s *Session) Status() orchestrator.Snapshot {
	return s.orch.Status()
}

func (s *Session) Feedback() feedback.Snapshot {
	return s.feedback.Snapshot()
}

// Reset abandons the current attempt and clears the processing feedback.
// Form state is kept so the customer can retry without retyping.
func (s *Session) Reset() {
	s.orch.Reset()
	s.feedback.Reset()
}

// View is the form state rendered back to the client.
type View struct {
	OrderID       string        `json:"order_id"`
	Method        entity.Method `json:"method"`
	Currency      string        `json:"currency"`
	Amount        string        `json:"amount"`
	Phone         string        `json:"phone,omitempty"`
	Email         string        `json:"email,omitempty"`
	TermsAccepted bool          `json:"terms_accepted"`
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		OrderID:       s.orderID,
		Method:        s.method,
		Currency:      s.currencyCode,
		Amount:        currency.Format(currency.Convert(s.baseAmount, s.rate), s.currencyCode),
		Phone:         s.phone,
		Email:         s.email,
		TermsAccepted: s.termsAccepted,
	}
}

// OnPhaseChange implements orchestrator.Listener: the session mirrors the
// attempt's reference and phase into its persisted snapshot, and drops the
// snapshot entirely once the payment succeeds.
func (s *Session) OnPhaseChange(event orchestrator.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReference = event.Reference
	s.lastPhase = event.Phase
	if event.Phase == entity.PhaseSucceeded {
		s.lastReference = ""
		s.lastPhase = ""
		s.store.Remove(s.key(formKey))
		return
	}
	s.persistLocked()
}

// resume restarts confirmation polling for a live attempt whose outcome
// arrives out of band, such as a hosted redirect the customer just returned
// from. No-op when polling is already running or the attempt is terminal.
func (s *Session) resume() {
	if s.orch.Resume() {
		s.logger.Info("Resumed confirmation polling for a pending attempt")
	}
}

// recover resumes a persisted in-flight attempt, if any. Returns whether
// verification polling was resumed.
func (s *Session) recover() bool {
	s.mu.Lock()
	req := orchestrator.RecoverRequest{
		OrderID:    s.orderID,
		Method:     s.method,
		BaseAmount: s.baseAmount,
		Amount:     currency.Convert(s.baseAmount, s.rate).Round(2),
		Currency:   s.currencyCode,
		Rate:       s.rate,
		Contact:    provider.Contact{Phone: s.phone, Email: s.email},
	}
	s.mu.Unlock()

	resumed, err := s.orch.Recover(req)
	if err != nil {
		s.logger.WithError(err).Warn("Could not resume persisted payment attempt")
		return false
	}
	if resumed {
		s.logger.Info("Resumed verification of an interrupted payment attempt")
	}
	return resumed
}

func (s *Session) persistLocked() {
	state := entity.CheckoutState{
		OrderID:               s.orderID,
		BaseAmount:            s.baseAmount,
		Method:                s.method,
		Currency:              s.currencyCode,
		Rate:                  s.rate,
		Phone:                 s.phone,
		Email:                 s.email,
		TermsAccepted:         s.termsAccepted,
		LastProviderReference: s.lastReference,
		LastPhase:             s.lastPhase,
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return
	}
	s.store.Set(s.key(formKey), string(raw))
}

func (s *Session) key(name string) string {
	return "session:" + s.id + "/" + name
}

type sessionDeps struct {
	registry *provider.Registry
	store    *storage.Facade
	rates    currency.RateSource
	orch     *orchestrator.Orchestrator
	feedback *feedback.Feedback
	logger   logrus.FieldLogger
}

func (d sessionDeps) rateOr(code string, fallback decimal.Decimal) decimal.Decimal {
	if rate, ok := d.rates.Rate(code); ok {
		return rate
	}
	return fallback
}
