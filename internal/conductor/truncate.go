package conductor

import (
	"fmt"

	"github.com/alexandertaboriskiy/navixmind-sub000/pkg/models"
)

// headKeep is how many of the oldest messages survive truncation. The
// opening exchange usually anchors what the conversation is about, so
// it is worth more than the middle.
const headKeep = 2

// truncateHistory bounds history to max messages by keeping the head
// and the most recent tail, dropping the middle. The tail boundary is
// nudged past orphaned tool results so the model never sees a tool
// result without the call that produced it.
func truncateHistory(history []models.Message, max int) []models.Message {
	if max <= 0 || len(history) <= max {
		return history
	}
	head := headKeep
	if head > max-1 {
		head = max - 1
	}
	tailLen := max - head
	tail := history[len(history)-tailLen:]
	for len(tail) > 0 && tail[0].Role == models.RoleTool {
		tail = tail[1:]
	}
	out := make([]models.Message, 0, head+len(tail))
	out = append(out, history[:head]...)
	out = append(out, tail...)
	return out
}

// truncateResult bounds an oversized tool result, preserving both the
// start and the end so the model keeps the setup and the conclusion of
// long output.
func truncateResult(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	head := max * 2 / 3
	tail := max - head
	dropped := len(s) - head - tail
	return fmt.Sprintf("%s\n[... %d bytes truncated ...]\n%s", s[:head], dropped, s[len(s)-tail:])
}
