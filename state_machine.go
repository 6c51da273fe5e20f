package auth

import "fmt"

// SessionState is the trust level of the user held by a Controller
type SessionState string

const (
	// StateAnonymous no user is known
	StateAnonymous SessionState = "anonymous"
	// StateUnverified a provisional user was seeded from SSR or the store
	StateUnverified SessionState = "unverified"
	// StateVerifying an authenticate/verify round-trip is in flight
	StateVerifying SessionState = "verifying"
	// StateVerified the user passed both authenticate and token verification
	StateVerified SessionState = "verified"
)

func (s SessionState) String() string {
	return string(s)
}

// sessionMachine holds the controller state and the allowed transitions.
// It is not safe for concurrent use; the Controller guards it.
type sessionMachine struct {
	state       SessionState
	user        *User
	transitions map[SessionState]map[SessionState]struct{}
}

func newSessionMachine(seed *User) *sessionMachine {
	sm := &sessionMachine{
		state: StateAnonymous,
		transitions: map[SessionState]map[SessionState]struct{}{
			StateAnonymous: {
				StateVerifying: {},
			},
			StateUnverified: {
				StateVerifying: {},
				StateVerified:  {},
				StateAnonymous: {},
			},
			StateVerifying: {
				StateVerifying: {},
				StateVerified:  {},
				StateAnonymous: {},
			},
			StateVerified: {
				StateVerifying: {},
				StateAnonymous: {},
			},
		},
	}
	if seed != nil {
		sm.state = StateUnverified
		sm.user = seed
	}
	return sm
}

func (sm *sessionMachine) canTransition(from, to SessionState) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

// transition moves to target. Entering StateAnonymous always clears the user,
// StateVerified requires one.
func (sm *sessionMachine) transition(target SessionState, user *User) error {
	from := sm.state
	if from == target && target == StateAnonymous {
		sm.user = nil
		return nil
	}

	if !sm.canTransition(from, target) {
		return ErrInvalidSessionTransition.Clone().WithMetadata(map[string]any{
			"from": from,
			"to":   target,
		})
	}

	switch target {
	case StateAnonymous:
		sm.user = nil
	case StateVerified:
		if user == nil {
			return ErrInvalidSessionTransition.Clone().WithMetadata(map[string]any{
				"from":   from,
				"to":     target,
				"reason": "verified state requires a user",
			})
		}
		sm.user = user
	case StateVerifying:
		// the provisional user stays visible while verifying
	default:
		return fmt.Errorf("unknown session state %q", target)
	}

	sm.state = target
	return nil
}
