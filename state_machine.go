package authstate

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
)

const textCodeInvalidTransition = "INVALID_AUTH_STATE_TRANSITION"

// ErrInvalidTransition is returned when a phase change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid auth state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// Phase is the coarse lifecycle position of a store.
type Phase string

const (
	PhaseInitializing    Phase = "initializing"
	PhaseUnauthenticated Phase = "unauthenticated"
	PhaseAuthenticated   Phase = "authenticated"
)

// Cause names what triggered a transition.
type Cause string

const (
	CauseProbe          Cause = "probe"
	CauseProbeFailed    Cause = "probe_failed"
	CauseChange         Cause = "change"
	CauseSignIn         Cause = "sign_in"
	CauseSignUp         Cause = "sign_up"
	CauseSignOut        Cause = "sign_out"
	CauseMutationFailed Cause = "mutation_failed"
	CauseMutationStart  Cause = "mutation_start"
)

// Transition describes one applied state change.
type Transition struct {
	From  State
	To    State
	Cause Cause
	Kind  ChangeKind
}

// TransitionHook runs after a transition has been applied.
type TransitionHook func(ctx context.Context, t Transition)

// phaseTransitions lists the allowed phase moves. Nothing may go back to
// initializing.
var phaseTransitions = map[Phase]map[Phase]struct{}{
	PhaseInitializing: {
		PhaseInitializing:    {},
		PhaseUnauthenticated: {},
		PhaseAuthenticated:   {},
	},
	PhaseUnauthenticated: {
		PhaseUnauthenticated: {},
		PhaseAuthenticated:   {},
	},
	PhaseAuthenticated: {
		PhaseAuthenticated:   {},
		PhaseUnauthenticated: {},
	},
}

func phaseFor(user *User) Phase {
	if user != nil {
		return PhaseAuthenticated
	}
	return PhaseUnauthenticated
}

// CanTransition reports whether from -> to is an allowed phase move.
func CanTransition(from, to Phase) bool {
	if allowed, ok := phaseTransitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func checkTransition(from, to State) error {
	if CanTransition(from.Phase, to.Phase) {
		return nil
	}
	return ErrInvalidTransition.Clone().WithMetadata(map[string]any{
		"from": from.Phase,
		"to":   to.Phase,
	})
}
