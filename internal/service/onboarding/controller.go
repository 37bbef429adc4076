package onboarding

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	analysis "github.com/zhouzirui/fin-onboard/backend/internal/analysis/consent"
	"github.com/zhouzirui/fin-onboard/backend/internal/model/chat"
	"github.com/zhouzirui/fin-onboard/backend/internal/model/persona"
	"github.com/zhouzirui/fin-onboard/backend/internal/model/recommendation"
	chatstore "github.com/zhouzirui/fin-onboard/backend/internal/service/chat"
	consentsvc "github.com/zhouzirui/fin-onboard/backend/internal/service/consent"
	"github.com/zhouzirui/fin-onboard/backend/internal/service/fallback"
	"github.com/zhouzirui/fin-onboard/backend/internal/service/gateway"
	"github.com/zhouzirui/fin-onboard/backend/internal/storage"
)

const subscriberBuffer = 64

// ConsentClassifier decides how to read the answer to the consent question.
type ConsentClassifier interface {
	Classify(ctx context.Context, question, answer string) consentsvc.Result
}

type heuristicConsent struct{}

func (heuristicConsent) Classify(_ context.Context, _, answer string) consentsvc.Result {
	d := analysis.Analyze(answer)
	return consentsvc.Result{Verdict: d.Verdict, Reason: "heuristic"}
}

// Deps are the controller's collaborators.
type Deps struct {
	Gateway gateway.Gateway
	// Storage is this client's durable storage, already namespaced.
	Storage storage.KV
	Consent ConsentClassifier
	Logger  *zap.SugaredLogger
	Clock   func() time.Time
}

// Snapshot is a read-only view of the controller.
type Snapshot struct {
	State          State           `json:"state"`
	Messages       []chat.Message  `json:"messages"`
	Session        chat.Session    `json:"session"`
	Fault          *Fault          `json:"fault,omitempty"`
	ConsentPending bool            `json:"consentPending"`
	InputEnabled   bool            `json:"inputEnabled"`
	Persona        persona.Persona `json:"persona,omitempty"`
	// Draft is user text that was never answered before a reload.
	Draft  string      `json:"draft,omitempty"`
	Result *Completion `json:"result,omitempty"`
}

type action struct {
	fn    func() error
	reply chan error
}

// Controller drives one onboarding dialogue. A single loop goroutine owns
// all state below the channel block; public methods hand it closures.
type Controller struct {
	cfg     Config
	gw      gateway.Gateway
	tokens  gateway.TokenSource
	consent ConsentClassifier
	policy  fallback.Policy
	logger  *zap.SugaredLogger
	clock   func() time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	actions  chan action
	outcomes chan outcome
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once
	wg       sync.WaitGroup

	subMu  sync.RWMutex
	subs   map[int]chan Event
	nextID int

	// stale counts results dropped because their token was superseded.
	stale atomic.Uint64

	state          State
	archive        *chatstore.Archive
	transcript     *chatstore.Transcript
	ledger         *chatstore.Ledger
	persona        persona.Persona
	pending        *step
	fault          *Fault
	consentPending bool
	completed      bool
	result         *Completion
	// opening is set while the greeting waits for the first question.
	opening bool
	draft   string

	seq        uint64
	inflight   uint64
	timer      *time.Timer
	cancelCall context.CancelFunc
}

// New builds a controller in Initializing and starts its loop. Close must be
// called to release it.
func New(cfg Config, deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	kv := deps.Storage
	if kv == nil {
		kv = storage.NewMemoryStore()
	}
	classifier := deps.Consent
	if classifier == nil {
		classifier = heuristicConsent{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	cfg = cfg.withDefaults()
	archive := chatstore.NewArchive(kv)
	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		cfg:        cfg,
		gw:         deps.Gateway,
		tokens:     gateway.StoredToken{KV: kv},
		consent:    classifier,
		policy:     fallback.Policy{SampleData: cfg.SampleData},
		logger:     logger,
		clock:      clock,
		ctx:        ctx,
		cancel:     cancel,
		actions:    make(chan action),
		outcomes:   make(chan outcome),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		subs:       make(map[int]chan Event),
		state:      StateInitializing,
		archive:    archive,
		transcript: chatstore.NewTranscript(archive),
		ledger:     chatstore.NewLedger(archive),
	}

	go c.loop()
	return c
}

func (c *Controller) loop() {
	defer close(c.stopped)
	for {
		select {
		case <-c.done:
			c.abortCall()
			return
		case a := <-c.actions:
			a.reply <- a.fn()
		case o := <-c.outcomes:
			c.settle(o)
		}
	}
}

// do runs fn on the loop and waits for its verdict.
func (c *Controller) do(ctx context.Context, fn func() error) error {
	a := action{fn: fn, reply: make(chan error, 1)}
	select {
	case c.actions <- a:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-a.reply:
		return err
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the loop and waits for in-flight calls to unwind.
func (c *Controller) Close() {
	c.once.Do(func() {
		close(c.done)
		<-c.stopped
		c.cancel()
		c.wg.Wait()

		c.subMu.Lock()
		for id, ch := range c.subs {
			close(ch)
			delete(c.subs, id)
		}
		c.subMu.Unlock()
	})
}

// Start resumes an unfinished persisted dialogue or bootstraps a new one.
func (c *Controller) Start(ctx context.Context) error {
	return c.do(ctx, func() error {
		if c.state != StateInitializing {
			return fmt.Errorf("%w: start from %s", ErrInvalidTransition, c.state)
		}

		if c.restore() {
			c.draft = c.transcript.Draft()
			c.logger.Infof("[onboarding] resumed session=%s turns=%d", c.ledger.Session().ID, c.transcript.Len())
			return c.setState(StateAwaitingUserInput)
		}

		if c.cfg.WelcomeMessage != "" {
			if err := c.appendMessage(chat.SenderBot, c.cfg.WelcomeMessage); err != nil {
				return err
			}
			c.opening = true
		}
		if err := c.setState(StateAwaitingServerReply); err != nil {
			return err
		}
		c.launch(step{kind: stepUnderstand, text: c.cfg.BootstrapPrompt, bootstrap: true})
		return nil
	})
}

// restore reports whether a persisted, unfinished dialogue was loaded.
// Anything else is discarded so the next bootstrap starts clean.
func (c *Controller) restore() bool {
	haveTranscript, err := c.transcript.Restore(c.ctx)
	if err != nil {
		c.logger.Warnf("[onboarding] transcript restore failed: %v", err)
	}
	haveSession, err := c.ledger.Restore(c.ctx)
	if err != nil {
		c.logger.Warnf("[onboarding] session restore failed: %v", err)
	}

	if haveTranscript && haveSession && !c.ledger.Session().IsComplete {
		return true
	}

	if haveTranscript || haveSession {
		c.logger.Infof("[onboarding] discarding persisted session complete=%v", c.ledger.Session().IsComplete)
	}
	c.transcript.Clear()
	c.ledger.Clear()
	if err := c.archive.Discard(c.ctx); err != nil {
		c.logger.Warnf("[onboarding] discard persisted session failed: %v", err)
	}
	return false
}

// SubmitUserInput sends one user turn. Blank input is rejected with
// ErrEmptyInput and changes nothing.
func (c *Controller) SubmitUserInput(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}

	return c.do(ctx, func() error {
		if c.state != StateAwaitingUserInput {
			return fmt.Errorf("%w: submit in %s", ErrInvalidTransition, c.state)
		}
		if err := c.appendMessage(chat.SenderUser, text); err != nil {
			return err
		}
		if err := c.setState(StateAwaitingServerReply); err != nil {
			return err
		}
		c.draft = ""
		c.persist()

		if c.consentPending {
			c.launch(step{kind: stepConsent, text: text, question: c.cfg.ConsentQuestion})
			return nil
		}
		c.launch(step{kind: stepUnderstand, text: text, sessionID: c.ledger.Session().ID})
		return nil
	})
}

// Retry re-issues the failed step with its original arguments.
func (c *Controller) Retry(ctx context.Context) error {
	return c.do(ctx, func() error {
		if c.state != StateError {
			return fmt.Errorf("%w: retry in %s", ErrInvalidTransition, c.state)
		}
		if c.pending == nil || c.fault == nil || !c.fault.Retryable {
			return ErrNotRetryable
		}

		s := *c.pending
		if err := c.setState(s.state()); err != nil {
			return err
		}
		c.fault = nil
		c.logger.Infof("[onboarding] retrying %s", s.op())
		c.launch(s)
		return nil
	})
}

// UseSampleData completes the failed session with sample results.
func (c *Controller) UseSampleData(ctx context.Context) error {
	return c.do(ctx, func() error {
		if c.state != StateError {
			return fmt.Errorf("%w: sample data in %s", ErrInvalidTransition, c.state)
		}
		return c.completeWithSample()
	})
}

// Reset drops the dialogue, persisted data included, and returns to Initializing.
func (c *Controller) Reset(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.abortCall()
		c.transcript.Clear()
		c.ledger.Clear()
		if err := c.archive.Discard(c.ctx); err != nil {
			c.logger.Warnf("[onboarding] discard on reset failed: %v", err)
		}
		c.persona = nil
		c.pending = nil
		c.fault = nil
		c.consentPending = false
		c.completed = false
		c.result = nil
		c.opening = false
		c.draft = ""
		return c.setState(StateInitializing)
	})
}

// Snapshot returns the current view.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.do(ctx, func() error {
		snap = Snapshot{
			State:          c.state,
			Messages:       c.transcript.Messages(),
			Session:        c.ledger.Session(),
			ConsentPending: c.consentPending,
			InputEnabled:   c.state == StateAwaitingUserInput,
			Persona:        c.persona.Clone(),
			Draft:          c.draft,
		}
		if c.fault != nil {
			f := *c.fault
			snap.Fault = &f
		}
		if c.result != nil {
			r := *c.result
			snap.Result = &r
		}
		return nil
	})
	return snap, err
}

// Result returns the completion of the current session, if it finished.
func (c *Controller) Result(ctx context.Context) (Completion, bool, error) {
	var (
		done Completion
		ok   bool
	)
	err := c.do(ctx, func() error {
		if c.result != nil {
			done, ok = *c.result, true
		}
		return nil
	})
	return done, ok, err
}

// Subscribe returns a channel of events and a function that cancels it.
// A subscriber that falls behind loses events rather than stall the loop.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	select {
	case <-c.done:
		close(ch)
		return ch, func() {}
	default:
	}

	id := c.nextID
	c.nextID++
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

func (c *Controller) emit(ev Event) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for id, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			c.logger.Warnf("[onboarding] subscriber %d is full, dropping %s event", id, ev.Type)
		}
	}
}

func (c *Controller) setState(to State) error {
	from := c.state
	if from == to {
		return nil
	}
	if !canTransition(from, to) {
		c.logger.Errorf("[onboarding] refused transition %s -> %s", from, to)
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	c.state = to
	c.logger.Debugf("[onboarding] state %s -> %s", from, to)
	c.emit(Event{Type: EventStateChanged, State: to})
	return nil
}

func (c *Controller) appendMessage(sender chat.Sender, text string) error {
	m := chat.Message{Sender: sender, Text: text, Timestamp: c.clock().UTC()}
	if err := c.transcript.Append(m); err != nil {
		return err
	}
	idx := c.transcript.Len() - 1
	c.emit(Event{Type: EventMessageAppended, Message: &m, Index: &idx})
	return nil
}

// botTurn adds bot text, folding it into the greeting while that is still open.
func (c *Controller) botTurn(text string) error {
	if !c.opening {
		return c.appendMessage(chat.SenderBot, text)
	}
	m, err := c.transcript.ExtendOpening(text)
	if err != nil {
		return err
	}
	c.opening = false
	idx := 0
	c.emit(Event{Type: EventMessageUpdated, Message: &m, Index: &idx})
	return nil
}

// closeTurn answers a dangling user turn so the transcript ends on the bot.
func (c *Controller) closeTurn(text string) {
	if c.opening {
		if err := c.botTurn(text); err != nil {
			c.logger.Errorf("[onboarding] close opening turn: %v", err)
		}
		return
	}
	if last, ok := c.transcript.Last(); ok && last.Sender == chat.SenderBot {
		return
	}
	if err := c.appendMessage(chat.SenderBot, text); err != nil {
		c.logger.Errorf("[onboarding] append closing message: %v", err)
	}
}

// persist writes transcript and session. An unanswered user turn is kept as
// a draft rather than as part of the transcript.
func (c *Controller) persist() {
	if c.opening {
		return
	}
	if err := c.transcript.Persist(c.ctx); err != nil {
		c.logger.Warnf("[onboarding] persist transcript: %v", err)
	}
	if err := c.ledger.Persist(c.ctx); err != nil {
		c.logger.Warnf("[onboarding] persist session: %v", err)
	}
}

func (c *Controller) hasToken() bool {
	token, err := c.tokens.Token(c.ctx)
	if err != nil {
		c.logger.Warnf("[onboarding] read auth token: %v", err)
		return false
	}
	return token != ""
}

// settle applies the result of the in-flight step. Results from superseded
// calls are dropped without touching state.
func (c *Controller) settle(o outcome) {
	if o.token == 0 || o.token != c.inflight || c.pending == nil {
		c.stale.Add(1)
		c.logger.Debugf("[onboarding] dropped stale result token=%d current=%d", o.token, c.inflight)
		return
	}
	c.abortCall()

	s := *c.pending
	if o.timedOut && s.kind == stepConsent {
		// A slow classifier must not block the user; fall back to keywords.
		o = outcome{verdict: analysis.Analyze(s.text).Verdict}
	}
	if o.err != nil {
		c.fail(s, o.err)
		return
	}
	c.pending = nil

	switch s.kind {
	case stepUnderstand:
		c.onReply(s, o.reply)
	case stepConsent:
		c.onConsent(o.verdict)
	case stepExtract:
		c.onPersona(o.persona)
	case stepRecommend:
		c.finish(o.set)
	}
}

func (c *Controller) onReply(s step, reply gateway.Reply) {
	c.ledger.Apply(reply.SessionID, reply.IsComplete, c.clock())

	text := reply.Text
	askConsent := reply.IsComplete && c.cfg.ConfirmRecommendations
	if askConsent {
		text = text + "\n\n" + c.cfg.ConsentQuestion
	}
	if err := c.botTurn(text); err != nil {
		c.logger.Errorf("[onboarding] append reply: %v", err)
	}
	c.persist()

	switch {
	case askConsent:
		c.consentPending = true
		_ = c.setState(StateAwaitingUserInput)
	case reply.IsComplete:
		c.beginExtraction()
	default:
		_ = c.setState(StateAwaitingUserInput)
	}
}

func (c *Controller) onConsent(verdict analysis.Verdict) {
	c.consentPending = false
	c.logger.Infof("[onboarding] consent verdict=%s", verdict)

	switch verdict {
	case analysis.Affirmative:
		c.beginExtraction()
	case analysis.Sample:
		_ = c.completeWithSample()
	default:
		c.closeTurn(c.cfg.DeclineMessage)
		c.markComplete()
		if err := c.setState(StateComplete); err != nil {
			return
		}
		c.emitCompletion(Completion{Declined: true})
	}
}

func (c *Controller) beginExtraction() {
	if err := c.setState(StateExtractingPersona); err != nil {
		return
	}
	c.launch(step{kind: stepExtract, sessionID: c.ledger.Session().ID, save: c.hasToken()})
}

func (c *Controller) onPersona(p persona.Persona) {
	c.persona = p.Clone()
	if err := c.setState(StateAwaitingRecommendations); err != nil {
		return
	}
	c.launch(step{kind: stepRecommend, persona: p.Clone()})
}

func (c *Controller) finish(set recommendation.Set) {
	c.closeTurn(c.cfg.ReadyMessage)
	c.markComplete()
	if err := c.setState(StateComplete); err != nil {
		return
	}
	c.emitCompletion(Completion{Persona: c.persona.Clone(), Recommendations: &set})
}

func (c *Controller) completeWithSample() error {
	p, set := fallback.SampleResults(c.persona)
	if err := c.setState(StateComplete); err != nil {
		return err
	}
	c.abortCall()
	c.persona = p
	c.pending = nil
	c.fault = nil
	c.consentPending = false
	c.closeTurn(c.cfg.SampleMessage)
	c.markComplete()
	c.logger.Infof("[onboarding] completed with sample data")
	c.emitCompletion(Completion{Persona: p.Clone(), Recommendations: &set})
	return nil
}

// markComplete flags the session finished so a reload starts a new one.
func (c *Controller) markComplete() {
	c.ledger.Apply("", true, c.clock())
	c.persist()
}

func (c *Controller) emitCompletion(done Completion) {
	if c.completed {
		return
	}
	c.completed = true
	c.result = &done
	c.emit(Event{Type: EventCompleted, State: StateComplete, Completion: &done})
}

func (c *Controller) fail(s step, err error) {
	d := c.policy.Decide(err)
	c.logger.Warnf("[onboarding] %s failed kind=%s retryable=%v: %v", s.op(), d.Kind, d.Retryable, err)

	if d.SessionGone {
		c.ledger.Clear()
		if derr := c.archive.Discard(c.ctx); derr != nil {
			c.logger.Warnf("[onboarding] discard expired session: %v", derr)
		}
	}

	fault := &Fault{Op: s.op(), Kind: d.Kind, Message: d.Message, Retryable: d.Retryable, SampleAvailable: true}
	c.fault = fault
	ev := *fault
	c.emit(Event{Type: EventFault, Fault: &ev})

	if d.Action == fallback.Substitute {
		_ = c.completeWithSample()
		return
	}
	_ = c.setState(StateError)
}
