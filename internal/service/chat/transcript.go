package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/zhouzirui/fin-onboard/backend/internal/model/chat"
)

var (
	ErrMalformedMessage = errors.New("message is malformed")
	ErrOutOfTurn        = errors.New("message breaks turn order")
)

// Transcript is the append-only log of dialogue turns.
type Transcript struct {
	archive  *Archive
	messages []chat.Message
	draft    string
}

// NewTranscript returns an empty transcript persisted through archive.
func NewTranscript(archive *Archive) *Transcript {
	return &Transcript{archive: archive, messages: make([]chat.Message, 0, 16)}
}

// Append adds m at the end. The first turn must come from the bot and
// senders must alternate.
func (t *Transcript) Append(m chat.Message) error {
	if !m.WellFormed() {
		return ErrMalformedMessage
	}
	if err := checkTurn(t.messages, m); err != nil {
		return err
	}
	t.messages = append(t.messages, m)
	return nil
}

func checkTurn(prev []chat.Message, m chat.Message) error {
	if len(prev) == 0 {
		if m.Sender != chat.SenderBot {
			return fmt.Errorf("%w: transcript must open with the bot", ErrOutOfTurn)
		}
		return nil
	}
	if prev[len(prev)-1].Sender == m.Sender {
		return fmt.Errorf("%w: consecutive %s messages", ErrOutOfTurn, m.Sender)
	}
	return nil
}

// ExtendOpening completes the opening bot turn with text. It is only valid
// while the greeting is the sole turn.
func (t *Transcript) ExtendOpening(text string) (chat.Message, error) {
	if len(t.messages) != 1 || t.messages[0].Sender != chat.SenderBot {
		return chat.Message{}, fmt.Errorf("%w: opening turn already closed", ErrOutOfTurn)
	}
	m := t.messages[0]
	m.Text = m.Text + "\n\n" + text
	if !m.WellFormed() {
		return chat.Message{}, ErrMalformedMessage
	}
	t.messages[0] = m
	return m, nil
}

// Draft is the unanswered user turn recovered by Restore.
func (t *Transcript) Draft() string {
	return t.draft
}

// Messages returns a copy of the log.
func (t *Transcript) Messages() []chat.Message {
	out := make([]chat.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len is the number of turns.
func (t *Transcript) Len() int {
	return len(t.messages)
}

// Last returns the most recent turn.
func (t *Transcript) Last() (chat.Message, bool) {
	if len(t.messages) == 0 {
		return chat.Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

// Clear drops every turn from memory. Persisted data is untouched.
func (t *Transcript) Clear() {
	t.messages = t.messages[:0]
	t.draft = ""
}

// Persist writes the transcript into the shared bundle. An unanswered user
// turn is stored as a draft, so the persisted log always ends on the bot.
func (t *Transcript) Persist(ctx context.Context) error {
	msgs := t.Messages()
	draft := ""
	if n := len(msgs); n > 0 && msgs[n-1].Sender == chat.SenderUser {
		draft = msgs[n-1].Text
		msgs = msgs[:n-1]
	}
	return t.archive.update(ctx, func(b *bundle) {
		b.Messages = msgs
		b.Draft = draft
	})
}

// Restore loads the persisted transcript. It reports false when nothing
// usable was stored; corrupt data is discarded and the transcript left empty.
// Only storage I/O failures are returned as errors.
func (t *Transcript) Restore(ctx context.Context) (bool, error) {
	t.Clear()

	b, ok, err := t.archive.read(ctx)
	if errors.Is(err, errCorrupt) {
		return false, t.archive.Discard(ctx)
	}
	if err != nil {
		return false, err
	}
	if !ok || len(b.Messages) == 0 {
		return false, nil
	}

	if err := validateTranscript(b.Messages); err != nil {
		return false, t.archive.Discard(ctx)
	}

	t.messages = append(t.messages, b.Messages...)
	t.draft = b.Draft
	return true, nil
}

// validateTranscript accepts only what the engine itself persists: well-formed
// turns opening with the bot, alternating, and ending on a bot reply.
func validateTranscript(msgs []chat.Message) error {
	for i, m := range msgs {
		if !m.WellFormed() {
			return fmt.Errorf("%w at turn %d", ErrMalformedMessage, i)
		}
		if err := checkTurn(msgs[:i], m); err != nil {
			return err
		}
	}
	if msgs[len(msgs)-1].Sender != chat.SenderBot {
		return fmt.Errorf("%w: transcript ends with an unanswered user turn", ErrOutOfTurn)
	}
	return nil
}
