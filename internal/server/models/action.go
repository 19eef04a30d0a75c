package models

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/bagqueue/internal/common"
)

// ActionState is the lifecycle of a submitted action.
type ActionState string

const (
	ActionPending       ActionState = "PENDING"
	ActionStarting      ActionState = "STARTING"
	ActionProcessing    ActionState = "PROCESSING"
	ActionDone          ActionState = "DONE"
	ActionFailed        ActionState = "FAILED"
	ActionUnprocessable ActionState = "UNPROCESSABLE"
)

// Messages recorded on actions that end without a runtime verdict.
const (
	ActionStoppedMessage = "stopped on request"
	ActionLostMessage    = "worker lost"
)

// actionEdges lists every allowed transition. STARTING -> PENDING releases a
// claim that could not be evaluated; STARTING -> FAILED is only taken for a
// stop request, which is honored before the runtime is started.
var actionEdges = map[ActionState][]ActionState{
	ActionPending:    {ActionStarting, ActionFailed},
	ActionStarting:   {ActionProcessing, ActionUnprocessable, ActionFailed, ActionPending},
	ActionProcessing: {ActionDone, ActionFailed},
}

// IsTerminal reports whether no transition leaves s.
func (s ActionState) IsTerminal() bool {
	switch s {
	case ActionDone, ActionFailed, ActionUnprocessable:
		return true
	}
	return false
}

// Valid reports whether s is one of the defined states.
func (s ActionState) Valid() bool {
	switch s {
	case ActionPending, ActionStarting, ActionProcessing, ActionDone, ActionFailed, ActionUnprocessable:
		return true
	}
	return false
}

// CanTransitionAction reports whether from -> to is a defined edge.
func CanTransitionAction(from, to ActionState) bool {
	for _, next := range actionEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckActionTransition is CanTransitionAction returning common.ErrInvalidTransition.
func CheckActionTransition(from, to ActionState) error {
	if !CanTransitionAction(from, to) {
		return fmt.Errorf("%w: %s -> %s", common.ErrInvalidTransition, from, to)
	}
	return nil
}

// Action is a processing run of a template against a mission. MissionID and
// TemplateID never change after creation.
type Action struct {
	ID         string
	MissionID  string
	TemplateID string
	CreatorID  string

	State           ActionState
	CancelRequested bool
	WorkerID        string
	// ClaimedAt is renewed by the owning worker; a claim older than the lease
	// is reaped.
	ClaimedAt *time.Time
	// Message carries the failure or rejection reason for terminal states.
	Message string

	CreatedAt time.Time
	UpdatedAt time.Time
}
