package orchestrator

import "github.com/vibast-solutions/ms-go-checkout/app/entity"

// Event is emitted on every phase change of the current attempt.
type Event struct {
	AttemptID string
	Reference string
	Method    entity.Method
	Phase     entity.Phase
	Err       error
}

// Listener receives phase-change events. Calls happen synchronously in
// transition order while the orchestrator holds its lock, so listeners must
// not call back into the orchestrator.
type Listener interface {
	OnPhaseChange(event Event)
}
