package device

import (
	"fmt"
	"time"

	"wakeline/pkg/models"
)

type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseRinging         Phase = "ringing"
	PhaseAwaitingPrompts Phase = "awaitingPrompts"
	PhaseConnecting      Phase = "connecting"
	PhaseConnected       Phase = "connected"
	PhaseEnded           Phase = "ended"
)

var allowedTransitions = map[Phase]map[Phase]struct{}{
	PhaseIdle: {
		PhaseRinging: {},
	},
	PhaseRinging: {
		PhaseAwaitingPrompts: {},
		PhaseIdle:            {},
		PhaseEnded:           {},
	},
	PhaseAwaitingPrompts: {
		PhaseConnecting: {},
		PhaseEnded:      {},
	},
	PhaseConnecting: {
		PhaseConnected: {},
		PhaseEnded:     {},
	},
	PhaseConnected: {
		PhaseEnded: {},
	},
	PhaseEnded: {
		PhaseIdle: {},
	},
}

func canTransition(from, to Phase) error {
	if _, ok := allowedTransitions[from][to]; !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// State is the device-side view of the call in progress.
type State struct {
	Phase     Phase           `json:"phase"`
	UUID      string          `json:"uuid,omitempty"`
	CallType  models.CallType `json:"callType,omitempty"`
	StartedAt *time.Time      `json:"startedAt,omitempty"`
	RoomName  string          `json:"roomName,omitempty"`
	Token     string          `json:"token,omitempty"`
	EndReason string          `json:"endReason,omitempty"`
}
