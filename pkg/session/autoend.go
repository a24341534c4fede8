package session

import "strings"

// EndPolicy decides whether a finalized assistant turn should end the
// session. The controller consults it after appending each assistant turn and
// disconnects when it returns true. A nil policy disables auto-end.
type EndPolicy interface {
	ShouldEnd(turn Turn) bool
}

// FarewellPolicy ends the session when the assistant's turn contains one of
// the configured farewell phrases. Matching is case-insensitive and only
// assistant turns are considered. The phrase list is product policy, supplied
// by the caller.
type FarewellPolicy struct {
	phrases []string
}

// NewFarewellPolicy creates a policy over the given phrases.
func NewFarewellPolicy(phrases ...string) *FarewellPolicy {
	lowered := make([]string, len(phrases))
	for i, p := range phrases {
		lowered[i] = strings.ToLower(p)
	}
	return &FarewellPolicy{phrases: lowered}
}

// ShouldEnd reports whether the turn contains a farewell phrase.
func (p *FarewellPolicy) ShouldEnd(turn Turn) bool {
	if turn.Role != RoleAssistant {
		return false
	}
	text := strings.ToLower(turn.Text)
	for _, phrase := range p.phrases {
		if phrase != "" && strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}
