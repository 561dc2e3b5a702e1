// Package account owns the account lifecycle: registration, initial setup,
// and deletion, plus the per-account opaque JSON documents.
package account

import (
	"encoding/json"
	"time"
)

// Phase is the lifecycle phase of an account. Transitions are linear:
// initial_setup -> normal. Deletion removes the row set entirely instead of
// being a phase flag, so a deleted account is simply absent.
type Phase string

const (
	// PhaseInitialSetup is the phase assigned at registration.
	PhaseInitialSetup Phase = "initial_setup"
	// PhaseNormal is the operating phase after setup completes.
	PhaseNormal Phase = "normal"
)

// ParsePhase converts a stored phase string into a Phase.
func ParsePhase(value string) (Phase, bool) {
	switch Phase(value) {
	case PhaseInitialSetup, PhaseNormal:
		return Phase(value), true
	}
	return "", false
}

// String returns the storage form of the phase.
func (p Phase) String() string {
	return string(p)
}

// Account is the domain view of one account.
type Account struct {
	ID        string
	Phase     Phase
	Profile   json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EmptyDocument is the initial value for every opaque JSON document.
const EmptyDocument = "{}"
