// Package feedback turns orchestrator phase changes into the customer-facing
// processing narration and status notices. It carries no payment logic: the
// stage script advances on a fixed cadence regardless of real provider
// progress, and notices are debounced so event replays do not flicker.
package feedback

import (
	"errors"
	"sync"
	"time"

	"github.com/vibast-solutions/ms-go-checkout/app/entity"
	"github.com/vibast-solutions/ms-go-checkout/app/orchestrator"
	"github.com/vibast-solutions/ms-go-checkout/app/provider"
)

const (
	KindInfo    = "info"
	KindSuccess = "success"
	KindError   = "error"
)

// Snapshot is the view rendered by the status endpoint.
type Snapshot struct {
	Busy             bool   `json:"busy"`
	StageIndex       int    `json:"stage_index"`
	StageTitle       string `json:"stage_title,omitempty"`
	StageDescription string `json:"stage_description,omitempty"`
	Notice           string `json:"notice,omitempty"`
	NoticeKind       string `json:"notice_kind,omitempty"`
}

type Feedback struct {
	registry *provider.Registry
	cadence  time.Duration
	debounce time.Duration

	mu         sync.Mutex
	generation uint64
	attemptID  string
	stages     []provider.Stage
	stageIndex int
	stopStage  func()
	busy       bool
	notice     string
	noticeKind string
	lastEvent  string
	lastAt     time.Time
}

func New(registry *provider.Registry, cadence, debounce time.Duration) *Feedback {
	if cadence <= 0 {
		cadence = 2 * time.Second
	}
	return &Feedback{
		registry: registry,
		cadence:  cadence,
		debounce: debounce,
	}
}

// OnPhaseChange implements orchestrator.Listener. It runs inside the
// orchestrator's transition, so it only touches local state.
func (f *Feedback) OnPhaseChange(event orchestrator.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := event.AttemptID + "|" + string(event.Phase)
	now := time.Now()
	if key == f.lastEvent && now.Sub(f.lastAt) < f.debounce {
		return
	}
	f.lastEvent = key
	f.lastAt = now

	// A recovered attempt resumes straight in AwaitingConfirmation, so the
	// narration starts on the first non-terminal event of a fresh attempt,
	// not only on Initiating.
	if event.AttemptID != f.attemptID && !event.Phase.Terminal() {
		f.attemptID = event.AttemptID
		f.busy = true
		f.stages = f.registry.Stages(event.Method)
		f.stageIndex = 0
		f.startStageTimerLocked()
	}

	switch event.Phase {
	case entity.PhaseInitiating:
		f.setNoticeLocked("Starting your payment...", KindInfo)
	case entity.PhaseAwaitingConfirmation:
		f.setNoticeLocked("Waiting for your payment to be confirmed.", KindInfo)
	case entity.PhaseFinalizing:
		f.setNoticeLocked("Payment received, confirming your order.", KindInfo)
	case entity.PhaseSucceeded:
		f.stopLocked()
		f.setNoticeLocked("Payment successful. Redirecting you to your order.", KindSuccess)
	case entity.PhaseTimedOut:
		f.stopLocked()
		// Deliberately not worded as a failure: a timed-out push payment may
		// still complete on the provider side.
		f.setNoticeLocked("We did not receive confirmation in time. If you authorized the payment it may still complete; please check your order history before retrying.", KindError)
	case entity.PhaseCancelled:
		f.stopLocked()
		f.setNoticeLocked("Payment cancelled.", KindInfo)
	case entity.PhaseFailed:
		f.stopLocked()
		f.setNoticeLocked(failureNotice(event.Err), KindError)
	}
}

func failureNotice(err error) string {
	switch {
	case errors.Is(err, orchestrator.ErrFinalizationRejected):
		return "Your payment may have been taken, but we could not confirm your order. Please contact support before paying again."
	case errors.Is(err, orchestrator.ErrProviderRejected):
		return "Your payment was declined by the provider. Please try again or use a different method."
	case errors.Is(err, orchestrator.ErrNetworkTimeout):
		return "The payment request timed out. Please check your connection and try again."
	default:
		return "Something went wrong while processing your payment. Please try again."
	}
}

// Reset stops the narration timer and clears the current notice.
func (f *Feedback) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopLocked()
	f.attemptID = ""
	f.stages = nil
	f.stageIndex = 0
	f.notice = ""
	f.noticeKind = ""
	f.lastEvent = ""
}

func (f *Feedback) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := Snapshot{
		Busy:       f.busy,
		StageIndex: f.stageIndex,
		Notice:     f.notice,
		NoticeKind: f.noticeKind,
	}
	if f.busy && f.stageIndex < len(f.stages) {
		out.StageTitle = f.stages[f.stageIndex].Title
		out.StageDescription = f.stages[f.stageIndex].Description
	}
	return out
}

func (f *Feedback) setNoticeLocked(text, kind string) {
	f.notice = text
	f.noticeKind = kind
}

// startStageTimerLocked restarts the narration ticker for a fresh attempt.
// The index advances on the cadence and parks on the final stage; the ticker
// checks the generation so a timer leaked across attempts is a no-op.
func (f *Feedback) startStageTimerLocked() {
	f.stopStageTimerLocked()
	f.generation++
	gen := f.generation
	stop := make(chan struct{})
	f.stopStage = func() { close(stop) }

	go func() {
		ticker := time.NewTicker(f.cadence)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
			f.mu.Lock()
			if f.generation != gen || !f.busy {
				f.mu.Unlock()
				return
			}
			if f.stageIndex < len(f.stages)-1 {
				f.stageIndex++
			}
			f.mu.Unlock()
		}
	}()
}

func (f *Feedback) stopStageTimerLocked() {
	if f.stopStage != nil {
		f.stopStage()
		f.stopStage = nil
	}
	f.generation++
}

func (f *Feedback) stopLocked() {
	f.stopStageTimerLocked()
	f.busy = false
}
