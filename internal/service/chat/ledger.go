package chat

import (
	"context"
	"errors"
	"time"

	"github.com/zhouzirui/fin-onboard/backend/internal/model/chat"
)

// Ledger holds the server session identifier and completion flag.
type Ledger struct {
	archive *Archive
	session chat.Session
}

// NewLedger returns an empty ledger persisted through archive.
func NewLedger(archive *Archive) *Ledger {
	return &Ledger{archive: archive}
}

// Session returns the current session.
func (l *Ledger) Session() chat.Session {
	return l.session
}

// Apply records a server response. An empty id keeps the current one; the
// ledger never invents identifiers.
func (l *Ledger) Apply(sessionID string, complete bool, now time.Time) {
	if sessionID != "" {
		l.session.ID = sessionID
	}
	l.session.IsComplete = complete
	l.session.LastUpdated = now.UTC()
}

// Clear forgets the session in memory.
func (l *Ledger) Clear() {
	l.session = chat.Session{}
}

// Persist writes the session into the shared bundle.
func (l *Ledger) Persist(ctx context.Context) error {
	s := l.session
	return l.archive.update(ctx, func(b *bundle) {
		b.SessionID = s.ID
		b.IsComplete = s.IsComplete
		b.LastUpdated = s.LastUpdated
	})
}

// Restore loads the persisted session, discarding it when it is malformed.
func (l *Ledger) Restore(ctx context.Context) (bool, error) {
	l.Clear()

	b, ok, err := l.archive.read(ctx)
	if errors.Is(err, errCorrupt) {
		return false, l.archive.Discard(ctx)
	}
	if err != nil {
		return false, err
	}
	if !ok || b.SessionID == "" {
		return false, nil
	}
	if b.LastUpdated.IsZero() {
		return false, l.archive.Discard(ctx)
	}

	l.session = chat.Session{ID: b.SessionID, IsComplete: b.IsComplete, LastUpdated: b.LastUpdated}
	return true, nil
}
