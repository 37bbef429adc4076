package chat

import "time"

// Session anchors the dialogue to the understander's conversational context.
// ID stays empty until the first successful round-trip.
type Session struct {
	ID          string    `json:"sessionId"`
	IsComplete  bool      `json:"isComplete"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// HasID reports whether the server has assigned an identifier.
func (s Session) HasID() bool {
	return s.ID != ""
}
