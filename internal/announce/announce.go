// Package announce publishes collective decision outcomes to chat platforms.
// Announcements are best-effort: a failed delivery is logged by the caller
// and never affects the decision itself.
package announce

import (
	"context"
	"fmt"
	"strings"
)

// Event is one decision outcome to broadcast.
type Event struct {
	Title      string
	Outcome    string
	Confidence float64
	Consensus  float64
	Agents     []string
	Reasoning  []string
}

// Announcer delivers an event to one destination.
type Announcer interface {
	Platform() string
	Announce(ctx context.Context, ev Event) error
}

// format renders an event as a plain-text message shared by all platforms.
func format(ev Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Decision: %s\n", ev.Title)
	fmt.Fprintf(&b, "Outcome: %s (confidence %.2f, consensus %.2f)\n",
		ev.Outcome, ev.Confidence, ev.Consensus)
	if len(ev.Agents) > 0 {
		fmt.Fprintf(&b, "Agents: %s\n", strings.Join(ev.Agents, ", "))
	}
	for _, r := range ev.Reasoning {
		fmt.Fprintf(&b, "- %s\n", r)
	}
	return strings.TrimRight(b.String(), "\n")
}
