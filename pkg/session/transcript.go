package session

import (
	"strings"
	"time"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	// RoleUser marks a turn spoken (or typed) by the user.
	RoleUser Role = "user"
	// RoleAssistant marks a turn synthesized by the model.
	RoleAssistant Role = "assistant"
)

// Turn is one finalized utterance. Immutable once appended to the transcript.
type Turn struct {
	// Role is who spoke this turn.
	Role Role `json:"role"`

	// Text is the complete turn text.
	Text string `json:"text"`

	// Timestamp is when the turn was finalized.
	Timestamp time.Time `json:"timestamp"`
}

// Accumulator collects streamed text fragments until a turn boundary
// finalizes them. It is owned by the controller's dispatch goroutine and is
// deliberately unsynchronized: all appends and takes happen on that one
// goroutine.
type Accumulator struct {
	b strings.Builder
}

// Append adds a text fragment to the in-progress turn.
func (a *Accumulator) Append(delta string) {
	a.b.WriteString(delta)
}

// Len returns the accumulated text length.
func (a *Accumulator) Len() int {
	return a.b.Len()
}

// Take returns the accumulated text and resets the buffer. The second return
// is false when nothing was accumulated, which is valid: a turn boundary with
// an empty accumulator finalizes nothing.
func (a *Accumulator) Take() (string, bool) {
	if a.b.Len() == 0 {
		return "", false
	}
	text := a.b.String()
	a.b.Reset()
	return text, true
}
