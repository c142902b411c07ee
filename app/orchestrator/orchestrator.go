// Package orchestrator holds the per-session payment state machine: it
// coordinates one checkout attempt at a time across the payment drivers,
// runs bounded confirmation polling, enforces at-most-once finalization per
// provider reference, and resumes interrupted attempts after a reload.
package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-checkout/app/entity"
	"github.com/vibast-solutions/ms-go-checkout/app/provider"
	"github.com/vibast-solutions/ms-go-checkout/app/storage"
)

const (
	keyLastReference  = "last_reference"
	keyLastPhase      = "last_phase"
	keyFinalizePrefix = "finalize:"
)

type Options struct {
	KeyPrefix      string
	PollInterval   time.Duration
	RequestTimeout time.Duration
}

type InitiateRequest struct {
	OrderID    string
	Method     entity.Method
	BaseAmount decimal.Decimal
	Amount     decimal.Decimal
	Currency   string
	Rate       decimal.Decimal
	Contact    provider.Contact
}

type RecoverRequest struct {
	OrderID    string
	Method     entity.Method
	BaseAmount decimal.Decimal
	Amount     decimal.Decimal
	Currency   string
	Rate       decimal.Decimal
	Contact    provider.Contact
}

// Snapshot is the externally visible state of the orchestrator.
type Snapshot struct {
	AttemptID   string
	Reference   string
	Method      entity.Method
	Phase       entity.Phase
	RedirectURL string
	Err         error
}

type finalizeOutcome struct {
	RedirectURL string `json:"redirect_url,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

// Orchestrator owns at most one in-flight PaymentAttempt. The application
// constructs exactly one instance per checkout session; the "only one
// attempt per tab" guarantee is this instance's single-flight guard, not a
// hidden global.
type Orchestrator struct {
	registry       *provider.Registry
	store          *storage.Facade
	keyPrefix      string
	pollInterval   time.Duration
	requestTimeout time.Duration
	logger         logrus.FieldLogger

	mu              sync.Mutex
	listeners       []Listener
	generation      uint64
	current         *entity.PaymentAttempt
	driver          provider.Driver
	contact         provider.Contact
	cancelPoll      context.CancelFunc
	pendingRedirect string
	lastErr         error
	finalized       map[string]finalizeOutcome
}

func New(registry *provider.Registry, store *storage.Facade, logger logrus.FieldLogger, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger().WithField("module", "orchestrator")
	}
	return &Orchestrator{
		registry:       registry,
		store:          store,
		keyPrefix:      opts.KeyPrefix,
		pollInterval:   opts.PollInterval,
		requestTimeout: opts.RequestTimeout,
		logger:         logger,
		finalized:      map[string]finalizeOutcome{},
	}
}

func (o *Orchestrator) Subscribe(listener Listener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, listener)
}

// Initiate starts a new attempt. It is rejected with ErrAttemptInFlight
// unless the current attempt is absent or terminal; on rejection no network
// request is issued.
func (o *Orchestrator) Initiate(ctx context.Context, req InitiateRequest) (*entity.PaymentAttempt, error) {
	info, err := o.registry.Get(req.Method)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.current != nil && !o.current.Terminal() {
		o.mu.Unlock()
		return nil, ErrAttemptInFlight
	}
	attempt := &entity.PaymentAttempt{
		ID:             uuid.NewString(),
		OrderID:        req.OrderID,
		Method:         req.Method,
		BaseAmount:     req.BaseAmount,
		Amount:         req.Amount,
		Currency:       req.Currency,
		ConversionRate: req.Rate,
		Phase:          entity.PhaseInitiating,
		CreatedAt:      time.Now().UTC(),
	}
	o.generation++
	gen := o.generation
	o.current = attempt
	o.driver = info.Driver
	o.contact = req.Contact
	o.pendingRedirect = ""
	o.lastErr = nil
	o.emitLocked(nil)
	snapshot := *attempt
	o.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, o.requestTimeout)
	defer cancel()
	result, initErr := info.Driver.Initiate(callCtx, &snapshot, req.Contact)
	if initErr != nil {
		mapped := classify(initErr)
		o.terminate(gen, entity.PhaseFailed, mapped)
		return nil, mapped
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation != gen || o.current == nil {
		return nil, ErrNoAttempt
	}
	if err := o.current.SetProviderReference(result.Reference); err != nil {
		o.logger.WithError(err).WithField("attempt_id", o.current.ID).Error("Provider reference assigned twice")
		return nil, err
	}
	o.store.Set(o.key(keyLastReference), result.Reference)
	o.pendingRedirect = result.RedirectURL
	o.transitionLocked(entity.PhaseAwaitingConfirmation, nil)
	if info.PollBudget > 0 {
		o.startPollingLocked(gen, info.PollBudget)
	}
	out := *o.current
	return &out, nil
}

// Recover resumes an attempt persisted by a previous page load. It returns
// false when there is nothing to resume. While a recovered attempt is
// unresolved, Initiate is rejected by the single-flight guard.
func (o *Orchestrator) Recover(req RecoverRequest) (bool, error) {
	reference, ok := o.store.Get(o.key(keyLastReference))
	if !ok || strings.TrimSpace(reference) == "" {
		return false, nil
	}
	if phaseRaw, ok := o.store.Get(o.key(keyLastPhase)); ok && entity.Phase(phaseRaw).Terminal() {
		return false, nil
	}
	info, err := o.registry.Get(req.Method)
	if err != nil {
		return false, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil && !o.current.Terminal() {
		return false, ErrAttemptInFlight
	}
	o.generation++
	gen := o.generation
	o.current = &entity.PaymentAttempt{
		ID:                uuid.NewString(),
		OrderID:           req.OrderID,
		Method:            req.Method,
		BaseAmount:        req.BaseAmount,
		Amount:            req.Amount,
		Currency:          req.Currency,
		ConversionRate:    req.Rate,
		ProviderReference: reference,
		Phase:             entity.PhaseAwaitingConfirmation,
		CreatedAt:         time.Now().UTC(),
	}
	o.driver = info.Driver
	o.contact = req.Contact
	o.pendingRedirect = ""
	o.lastErr = nil
	o.emitLocked(nil)

	budget := info.RecoveryPollBudget
	if budget > 0 {
		o.startPollingLocked(gen, budget)
	}
	return true, nil
}

// Resume starts verification polling for a live attempt that is awaiting
// provider confirmation with no active poll loop. Hosted-redirect attempts
// take this path: initiation starts no polling, so the page load after the
// customer returns from the provider drives confirmation with the recovery
// budget. Reports whether polling was started.
func (o *Orchestrator) Resume() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil || o.current.Phase != entity.PhaseAwaitingConfirmation ||
		o.current.ProviderReference == "" || o.cancelPoll != nil {
		return false
	}
	info, err := o.registry.Get(o.current.Method)
	if err != nil || info.RecoveryPollBudget <= 0 {
		return false
	}
	// The recovery budget is granted on top of polls already consumed.
	o.startPollingLocked(o.generation, o.current.AttemptCount+info.RecoveryPollBudget)
	return true
}

// ResolveExternal feeds a push event from an externally driven provider
// (redirect-capture approval/cancel/error) into the state machine. Events
// for a reference other than the current attempt's are discarded.
func (o *Orchestrator) ResolveExternal(reference string, outcome provider.PollOutcome) error {
	o.mu.Lock()
	if o.current == nil || o.current.Terminal() {
		o.mu.Unlock()
		return ErrNoAttempt
	}
	if o.current.ProviderReference == "" || o.current.ProviderReference != reference {
		o.mu.Unlock()
		return ErrStaleReference
	}
	if o.current.Phase != entity.PhaseAwaitingConfirmation {
		// Finalization is already underway; a late capture event must not
		// clobber its outcome.
		o.mu.Unlock()
		return nil
	}
	gen := o.generation

	switch outcome {
	case provider.PollSucceeded:
		o.mu.Unlock()
		o.confirm(gen, reference)
		return nil
	case provider.PollFailed:
		o.transitionLocked(entity.PhaseFailed, ErrProviderRejected)
		o.mu.Unlock()
		return nil
	case provider.PollCancelled:
		o.transitionLocked(entity.PhaseCancelled, nil)
		o.mu.Unlock()
		return nil
	default:
		o.mu.Unlock()
		return nil
	}
}

// Reset tears the orchestrator down: pending poll timers are cancelled
// synchronously and a non-terminal attempt is cancelled. A timer that
// already fired becomes a no-op through the generation check.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.generation++
	o.stopPollingLocked()
	if o.current != nil && !o.current.Terminal() {
		o.current.Phase = entity.PhaseCancelled
		o.lastErr = nil
		if o.current.ProviderReference != "" {
			o.store.Set(o.key(keyLastPhase), string(entity.PhaseCancelled))
		}
		o.emitLocked(nil)
	}
	o.pendingRedirect = ""
}

func (o *Orchestrator) Status() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return Snapshot{Phase: entity.PhaseIdle}
	}
	return Snapshot{
		AttemptID:   o.current.ID,
		Reference:   o.current.ProviderReference,
		Method:      o.current.Method,
		Phase:       o.current.Phase,
		RedirectURL: o.pendingRedirect,
		Err:         o.lastErr,
	}
}

func (o *Orchestrator) startPollingLocked(gen uint64, budget int) {
	ctx, cancel := context.WithCancel(context.Background())
	o.cancelPoll = cancel
	go o.pollLoop(ctx, gen, budget)
}

func (o *Orchestrator) pollLoop(ctx context.Context, gen uint64, budget int) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		o.mu.Lock()
		if o.generation != gen || o.current == nil || o.current.Terminal() {
			o.mu.Unlock()
			return
		}
		if o.current.AttemptCount >= budget {
			o.transitionLocked(entity.PhaseTimedOut, ErrPollExhausted)
			o.mu.Unlock()
			return
		}
		o.current.AttemptCount++
		snapshot := *o.current
		drv := o.driver
		o.mu.Unlock()

		callCtx, cancel := context.WithTimeout(ctx, o.requestTimeout)
		outcome, err := drv.PollOnce(callCtx, &snapshot)
		cancel()
		if err != nil {
			// A failed poll consumes an attempt but is not terminal; the
			// budget bounds the retries.
			o.logger.WithError(err).WithFields(logrus.Fields{
				"attempt_id": snapshot.ID,
				"reference":  snapshot.ProviderReference,
				"poll":       snapshot.AttemptCount,
			}).Warn("Payment status poll failed")
			continue
		}

		switch outcome {
		case provider.PollPending:
			continue
		case provider.PollSucceeded:
			o.confirm(gen, snapshot.ProviderReference)
			return
		case provider.PollFailed:
			o.terminate(gen, entity.PhaseFailed, ErrProviderRejected)
			return
		case provider.PollCancelled:
			o.terminate(gen, entity.PhaseCancelled, nil)
			return
		}
	}
}

// confirm moves the attempt into Finalizing after a provider-success outcome
// was observed for the given reference, then finalizes. Stale confirmations
// (superseded generation, mismatched reference, wrong phase) are discarded.
func (o *Orchestrator) confirm(gen uint64, reference string) {
	o.mu.Lock()
	if o.generation != gen || o.current == nil || o.current.ProviderReference != reference ||
		o.current.Phase != entity.PhaseAwaitingConfirmation {
		o.mu.Unlock()
		return
	}
	o.stopPollingLocked()
	o.transitionLocked(entity.PhaseFinalizing, nil)
	snapshot := *o.current
	drv := o.driver
	contact := o.contact
	o.mu.Unlock()

	o.finalizeOnce(gen, snapshot, drv, contact)
}

// finalizeOnce executes the finalize call at most once per provider
// reference. The guard is held in memory and persisted, so a reload
// mid-flow cannot re-send a finalize the server already saw. Repeat calls
// apply the recorded outcome without touching the network.
func (o *Orchestrator) finalizeOnce(gen uint64, snapshot entity.PaymentAttempt, drv provider.Driver, contact provider.Contact) {
	reference := snapshot.ProviderReference
	storeKey := o.key(keyFinalizePrefix + reference)

	o.mu.Lock()
	if outcome, ok := o.finalized[reference]; ok {
		o.applyFinalizeLocked(gen, outcome)
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	if raw, ok := o.store.Get(storeKey); ok {
		var outcome finalizeOutcome
		if err := json.Unmarshal([]byte(raw), &outcome); err == nil {
			o.mu.Lock()
			o.finalized[reference] = outcome
			o.applyFinalizeLocked(gen, outcome)
			o.mu.Unlock()
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.requestTimeout)
	redirectURL, err := drv.Finalize(ctx, &snapshot, contact)
	cancel()

	outcome := finalizeOutcome{RedirectURL: redirectURL}
	if err != nil {
		mapped := classify(err)
		outcome.ErrorCode = errorCode(mapped)
		outcome.ErrorDetail = mapped.Error()
	}

	// Record before applying: even a timed-out finalize may have reached the
	// server, so it must never be re-sent for this reference.
	if raw, marshalErr := json.Marshal(outcome); marshalErr == nil {
		o.store.Set(storeKey, string(raw))
	}

	o.mu.Lock()
	o.finalized[reference] = outcome
	o.applyFinalizeLocked(gen, outcome)
	o.mu.Unlock()
}

func (o *Orchestrator) applyFinalizeLocked(gen uint64, outcome finalizeOutcome) {
	if o.generation != gen || o.current == nil || o.current.Phase != entity.PhaseFinalizing {
		return
	}
	if outcome.ErrorCode == "" {
		o.pendingRedirect = outcome.RedirectURL
		o.transitionLocked(entity.PhaseSucceeded, nil)
		return
	}
	o.transitionLocked(entity.PhaseFailed, errorFromCode(outcome.ErrorCode, outcome.ErrorDetail))
}

func (o *Orchestrator) terminate(gen uint64, phase entity.Phase, cause error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation != gen || o.current == nil || o.current.Terminal() {
		return
	}
	o.transitionLocked(phase, cause)
}

func (o *Orchestrator) transitionLocked(to entity.Phase, cause error) {
	from := o.current.Phase
	if !entity.CanTransition(from, to) {
		o.logger.WithFields(logrus.Fields{
			"attempt_id": o.current.ID,
			"from":       from,
			"to":         to,
		}).Error("Illegal phase transition dropped")
		return
	}
	o.current.Phase = to
	o.lastErr = cause
	if to.Terminal() {
		o.stopPollingLocked()
	}
	if o.current.ProviderReference != "" {
		if to == entity.PhaseSucceeded {
			o.store.Remove(o.key(keyLastReference))
			o.store.Remove(o.key(keyLastPhase))
		} else {
			o.store.Set(o.key(keyLastPhase), string(to))
		}
	}
	o.emitLocked(cause)
}

func (o *Orchestrator) stopPollingLocked() {
	if o.cancelPoll != nil {
		o.cancelPoll()
		o.cancelPoll = nil
	}
}

func (o *Orchestrator) emitLocked(cause error) {
	event := Event{
		AttemptID: o.current.ID,
		Reference: o.current.ProviderReference,
		Method:    o.current.Method,
		Phase:     o.current.Phase,
		Err:       cause,
	}
	for _, listener := range o.listeners {
		listener.OnPhaseChange(event)
	}
}

func (o *Orchestrator) key(name string) string {
	if o.keyPrefix == "" {
		return name
	}
	return o.keyPrefix + "/" + name
}
