// Package protection implements C5: the protection engine evaluating a
// head's protection flags against an incoming edit descriptor, strict
// priority order per §4.5.
package protection

import (
	"github.com/entityledger/core/internal/entity"
)

// Decision is the outcome of an Evaluate call.
type Decision struct {
	Accepted bool
	Reason   entity.RejectReason
}

// Engine evaluates protection rules. It holds no state: every call is
// computed fresh from the head observed at the start of the write
// attempt, since a losing CAS retry must re-evaluate protection against
// the newly reloaded head (§4.5).
type Engine struct{}

// New builds a protection Engine.
func New() *Engine { return &Engine{} }

// Evaluate applies the strict-priority rule order: archived, hard
// deleted, locked, mass-edit-protected, semi-protected. The first
// matching rule rejects; otherwise the edit is accepted.
func (e *Engine) Evaluate(head entity.Head, edit entity.EditDescriptor) Decision {
	switch {
	case head.Archived:
		return Decision{Accepted: false, Reason: entity.RejectArchived}
	case head.Deleted:
		return Decision{Accepted: false, Reason: entity.RejectHardDeleted}
	case head.Locked:
		return Decision{Accepted: false, Reason: entity.RejectLocked}
	case head.MassEditProtected && edit.IsMassEdit:
		return Decision{Accepted: false, Reason: entity.RejectMassEditProtected}
	case head.SemiProtected && edit.IsNotAutoconfirmed:
		return Decision{Accepted: false, Reason: entity.RejectSemiProtected}
	default:
		return Decision{Accepted: true}
	}
}
