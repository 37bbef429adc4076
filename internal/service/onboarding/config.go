package onboarding

import (
	"time"

	"github.com/zhouzirui/fin-onboard/backend/internal/service/gateway"
)

const (
	DefaultWelcomeMessage  = "Welcome to your Financial Assistant! I'm here to help you with your financial goals."
	DefaultConsentQuestion = "Would you like to see personalized product recommendations based on your profile?"
	DefaultDeclineMessage  = "I understand you don't want recommendations right now. Feel free to restart the conversation whenever you're ready."
	DefaultSampleMessage   = "Let me show you some sample recommendations instead."
	DefaultReadyMessage    = "Great! Here are your personalized recommendations."
	DefaultBootstrapPrompt = "Hello"
)

// Deadlines bound each step. When one fires the step fails with a Timeout.
type Deadlines struct {
	Bootstrap  time.Duration
	Understand time.Duration
	Profile    time.Duration
	Recommend  time.Duration
}

// DeadlinesFrom aligns step deadlines with the gateway budgets.
func DeadlinesFrom(cfg gateway.Config) Deadlines {
	return Deadlines{
		Bootstrap:  cfg.BootstrapTimeout,
		Understand: cfg.UnderstandTimeout,
		Profile:    cfg.ProfileTimeout,
		Recommend:  cfg.RecommendTimeout,
	}
}

// Config tunes one controller.
type Config struct {
	WelcomeMessage  string
	ConsentQuestion string
	DeclineMessage  string
	SampleMessage   string
	ReadyMessage    string
	BootstrapPrompt string

	// ReplyDelay holds back each bot reply to mimic typing. Zero in tests.
	ReplyDelay time.Duration
	// ConfirmRecommendations asks for consent before any persona or
	// recommendation call.
	ConfirmRecommendations bool
	// SampleData substitutes sample results after network faults.
	SampleData bool

	Deadlines Deadlines
}

// DefaultConfig returns the stock prompts and budgets.
func DefaultConfig() Config {
	return Config{
		WelcomeMessage:         DefaultWelcomeMessage,
		ConsentQuestion:        DefaultConsentQuestion,
		DeclineMessage:         DefaultDeclineMessage,
		SampleMessage:          DefaultSampleMessage,
		ReadyMessage:           DefaultReadyMessage,
		BootstrapPrompt:        DefaultBootstrapPrompt,
		ReplyDelay:             800 * time.Millisecond,
		ConfirmRecommendations: true,
		Deadlines:              DeadlinesFrom(gateway.DefaultConfig()),
	}
}

func (c Config) withDefaults() Config {
	if c.ConsentQuestion == "" {
		c.ConsentQuestion = DefaultConsentQuestion
	}
	if c.DeclineMessage == "" {
		c.DeclineMessage = DefaultDeclineMessage
	}
	if c.SampleMessage == "" {
		c.SampleMessage = DefaultSampleMessage
	}
	if c.ReadyMessage == "" {
		c.ReadyMessage = DefaultReadyMessage
	}
	if c.BootstrapPrompt == "" {
		c.BootstrapPrompt = DefaultBootstrapPrompt
	}
	if c.ReplyDelay < 0 {
		c.ReplyDelay = 0
	}
	return c
}
