package onboarding

import "errors"

// State is the controller's position in the onboarding dialogue.
type State string

const (
	StateInitializing            State = "initializing"
	StateAwaitingUserInput       State = "awaiting_user_input"
	StateAwaitingServerReply     State = "awaiting_server_reply"
	StateExtractingPersona       State = "extracting_persona"
	StateAwaitingRecommendations State = "awaiting_recommendations"
	StateComplete                State = "complete"
	StateError                   State = "error"
)

var (
	ErrInvalidTransition = errors.New("onboarding: action not allowed in current state")
	ErrEmptyInput        = errors.New("onboarding: input is empty")
	ErrNotRetryable      = errors.New("onboarding: failed step cannot be retried")
	ErrClosed            = errors.New("onboarding: controller closed")
)

// transitions lists every legal move. Reset to Initializing is legal from
// any state and is not repeated here.
var transitions = map[State][]State{
	StateInitializing:            {StateAwaitingServerReply, StateAwaitingUserInput},
	StateAwaitingUserInput:       {StateAwaitingServerReply},
	StateAwaitingServerReply:     {StateAwaitingUserInput, StateExtractingPersona, StateComplete, StateError},
	StateExtractingPersona:       {StateAwaitingRecommendations, StateComplete, StateError},
	StateAwaitingRecommendations: {StateComplete, StateError},
	StateError:                   {StateAwaitingServerReply, StateExtractingPersona, StateAwaitingRecommendations, StateComplete},
	StateComplete:                {},
}

func canTransition(from, to State) bool {
	if to == StateInitializing {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Busy reports whether a remote call is in flight and input must be refused.
func (s State) Busy() bool {
	switch s {
	case StateAwaitingServerReply, StateExtractingPersona, StateAwaitingRecommendations:
		return true
	default:
		return false
	}
}
