package fallback

import (
	"strings"

	"github.com/zhouzirui/fin-onboard/backend/internal/model/persona"
	"github.com/zhouzirui/fin-onboard/backend/internal/model/recommendation"
	"github.com/zhouzirui/fin-onboard/backend/internal/service/gateway"
)

const (
	MessageTimeout     = "Connection timeout. Please try again."
	MessageUnreachable = "No response from server. Please check your connection or try again later."
	MessageGeneric     = "Failed to send message. Please try again."
	MessageSessionGone = "Your session has expired. Please start a new assessment."
)

// Action tells the controller what to do with a failed call.
type Action int

const (
	// Surface shows the fault and waits for an explicit retry, sample or reset.
	Surface Action = iota
	// Substitute replaces the failed result with sample data.
	Substitute
)

func (a Action) String() string {
	if a == Substitute {
		return "substitute"
	}
	return "surface"
}

// Decision is the policy verdict for one failure.
type Decision struct {
	Action    Action
	Kind      gateway.Kind
	Message   string
	Retryable bool
	// SessionGone means the server forgot the session; the ledger must be cleared.
	SessionGone bool
}

// Policy maps gateway faults to user-facing decisions. SampleData is the
// explicit "use sample data" toggle; without it nothing is ever substituted.
type Policy struct {
	SampleData bool
}

// Decide classifies err. Errors that are not a *gateway.Fault are treated as
// server faults with the generic message.
func (p Policy) Decide(err error) Decision {
	fault, ok := gateway.AsFault(err)
	if !ok {
		return Decision{Action: Surface, Kind: gateway.KindServerError, Message: MessageGeneric, Retryable: true}
	}

	d := Decision{Action: Surface, Kind: fault.Kind, Retryable: true}
	switch fault.Kind {
	case gateway.KindTimeout:
		d.Message = MessageTimeout
	case gateway.KindUnreachable:
		d.Message = MessageUnreachable
	case gateway.KindServerError:
		if fault.SessionGone() {
			d.Message = MessageSessionGone
			d.Retryable = false
			d.SessionGone = true
			return d
		}
		d.Message = serverText(fault)
	default:
		d.Message = MessageGeneric
	}

	if p.SampleData && fault.Network() {
		d.Action = Substitute
	}
	return d
}

func serverText(f *gateway.Fault) string {
	if msg := strings.TrimSpace(f.Message); msg != "" {
		return msg
	}
	return MessageGeneric
}

// SampleResults returns the data used in place of failed remote results. A held
// persona is kept so the sample set never replaces what the user told us.
func SampleResults(held persona.Persona) (persona.Persona, recommendation.Set) {
	p := held
	if p.Empty() {
		p = persona.Sample()
	}
	return p.Clone(), recommendation.Sample()
}
