package onboarding

import (
	"context"
	"time"

	analysis "github.com/zhouzirui/fin-onboard/backend/internal/analysis/consent"
	"github.com/zhouzirui/fin-onboard/backend/internal/model/persona"
	"github.com/zhouzirui/fin-onboard/backend/internal/model/recommendation"
	"github.com/zhouzirui/fin-onboard/backend/internal/service/gateway"
)

type stepKind int

const (
	stepUnderstand stepKind = iota
	stepConsent
	stepExtract
	stepRecommend
)

// step is one network-bound unit of work. It keeps its arguments so a retry
// re-issues exactly the same call.
type step struct {
	kind      stepKind
	text      string
	sessionID string
	bootstrap bool
	save      bool
	question  string
	persona   persona.Persona
}

func (s step) op() string {
	switch s.kind {
	case stepUnderstand:
		return "understand"
	case stepConsent:
		return "consent"
	case stepExtract:
		return "extract_persona"
	default:
		return "recommend"
	}
}

// state is where the controller waits while the step is in flight.
func (s step) state() State {
	switch s.kind {
	case stepExtract:
		return StateExtractingPersona
	case stepRecommend:
		return StateAwaitingRecommendations
	default:
		return StateAwaitingServerReply
	}
}

// outcome is posted back to the loop, tagged with the token of the call
// that produced it.
type outcome struct {
	token    uint64
	timedOut bool
	reply    gateway.Reply
	persona  persona.Persona
	set      recommendation.Set
	verdict  analysis.Verdict
	err      error
}

func (c *Controller) deadline(s step) time.Duration {
	switch s.kind {
	case stepUnderstand:
		if s.bootstrap {
			return c.cfg.Deadlines.Bootstrap
		}
		return c.cfg.Deadlines.Understand
	case stepConsent:
		return c.cfg.Deadlines.Understand
	case stepExtract:
		return c.cfg.Deadlines.Profile
	default:
		return c.cfg.Deadlines.Recommend
	}
}

// launch starts s off the loop. Only one step is ever in flight; its token
// is the only one settle will accept.
func (c *Controller) launch(s step) {
	c.abortCall()

	c.seq++
	token := c.seq
	c.inflight = token
	c.pending = &s

	ctx, cancel := context.WithCancel(c.ctx)
	c.cancelCall = cancel

	var timer *time.Timer
	if d := c.deadline(s); d > 0 {
		timer = time.AfterFunc(d, func() {
			c.post(outcome{token: token, timedOut: true, err: gateway.TimeoutFault(s.op())})
		})
		c.timer = timer
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		out := c.run(ctx, s)
		out.token = token
		// The deadline covers the call only. Once it has fired the result
		// is stale and goes straight back.
		if timer != nil && !timer.Stop() {
			c.post(out)
			return
		}
		if s.kind == stepUnderstand && out.err == nil {
			c.pause(ctx)
		}
		c.post(out)
	}()
}

// pause holds a reply back for the typing delay.
func (c *Controller) pause(ctx context.Context) {
	if c.cfg.ReplyDelay <= 0 {
		return
	}
	t := time.NewTimer(c.cfg.ReplyDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (c *Controller) run(ctx context.Context, s step) outcome {
	switch s.kind {
	case stepUnderstand:
		reply, err := c.gw.Understander.Understand(ctx, s.text, s.sessionID)
		if err != nil {
			return outcome{err: err}
		}
		return outcome{reply: reply}

	case stepConsent:
		res := c.consent.Classify(ctx, s.question, s.text)
		return outcome{verdict: res.Verdict}

	case stepExtract:
		p, err := c.gw.Profiles.ExtractPersona(ctx, s.sessionID)
		if err != nil {
			return outcome{err: err}
		}
		if s.save {
			if err := c.gw.Profiles.SavePersona(ctx, p); err != nil {
				return outcome{err: err}
			}
		}
		return outcome{persona: p}

	default:
		set, err := c.gw.Recommender.Recommend(ctx, s.persona)
		if err != nil {
			return outcome{err: err}
		}
		return outcome{set: set}
	}
}

func (c *Controller) post(o outcome) {
	select {
	case c.outcomes <- o:
	case <-c.done:
	}
}

// abortCall forgets the in-flight call. Its result, if any, arrives stale.
func (c *Controller) abortCall() {
	c.inflight = 0
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancelCall != nil {
		c.cancelCall()
		c.cancelCall = nil
	}
}
