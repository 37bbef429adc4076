package chat

import (
	"strings"
	"time"
)

// Sender identifies who produced a transcript turn.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Valid reports whether s is a known sender.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderBot
}

// Message is one immutable turn of the onboarding dialogue.
type Message struct {
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// WellFormed reports whether m could have been produced by the engine.
func (m Message) WellFormed() bool {
	return m.Sender.Valid() && strings.TrimSpace(m.Text) != "" && !m.Timestamp.IsZero()
}
