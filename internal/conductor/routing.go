package conductor

import (
	"strings"
)

// Tiers names the models the loop can route a turn to.
type Tiers struct {
	Light    string
	Standard string
	Heavy    string
}

func DefaultTiers() Tiers {
	return Tiers{
		Light:    "claude-haiku-4-5",
		Standard: "claude-sonnet-4-5",
		Heavy:    "claude-opus-4-5",
	}
}

// RouteInput carries everything the router may weigh for one turn.
type RouteInput struct {
	// Preference is an explicit model choice from the host, empty when
	// the host leaves the decision to us.
	Preference string
	// CostPressure is set when the host asks us to economize, e.g. on
	// low battery or a metered plan.
	CostPressure bool
	Query          string
	HasAttachments bool
}

// complexityMarkers are terms that signal multi-step work worth the
// heavy tier.
var complexityMarkers = []string{
	"analyze", "analyse", "compare", "debug", "refactor",
	"plan", "step by step", "in depth", "detailed",
	"write a program", "write code", "prove",
}

const shortQuestionWords = 12

// Route picks the model for a turn. The rules apply in strict order:
// an explicit preference always wins, cost pressure forces the light
// tier, complexity markers promote to heavy, a short question demotes
// to light, attachments promote to heavy, and everything else takes
// the standard tier.
func Route(tiers Tiers, in RouteInput) string {
	if in.Preference != "" {
		return in.Preference
	}
	if in.CostPressure {
		return tiers.Light
	}
	query := strings.ToLower(in.Query)
	for _, marker := range complexityMarkers {
		if strings.Contains(query, marker) {
			return tiers.Heavy
		}
	}
	if isShortQuestion(in.Query) {
		return tiers.Light
	}
	if in.HasAttachments {
		return tiers.Heavy
	}
	return tiers.Standard
}

func isShortQuestion(query string) bool {
	trimmed := strings.TrimSpace(query)
	if !strings.HasSuffix(trimmed, "?") {
		return false
	}
	return len(strings.Fields(trimmed)) <= shortQuestionWords
}
