package history

import (
	"strings"
	"time"
)

// Line renders an entry as "speaker: text", or with a reply excerpt when the
// entry answered an earlier message.
func (e Entry) Line() string {
	if e.ReplyTo == nil {
		return e.Speaker + ": " + e.Text
	}
	excerpt := e.ReplyTo.Excerpt
	if e.ReplyTo.HasMedia {
		excerpt = strings.TrimSpace(excerpt + " [image]")
	}
	return e.Speaker + ` [replying to ` + e.ReplyTo.Speaker + `: "` + excerpt + `"]: ` + e.Text
}

// DividerFormat is the layout of the line inserted when the local hour changes.
const DividerFormat = "Mon Jan 2, 3 PM"

// TrimmedHistory renders the channel as newline-joined lines with hour
// dividers, dropping whole lines from the front until the estimate fits
// maxTokens or a single line is left.
func (s *Store) TrimmedHistory(key Key, maxTokens int) string {
	s.mu.RLock()
	lines := s.renderLines(s.channels[key])
	s.mu.RUnlock()

	text := strings.Join(lines, "\n")
	for len(lines) > 1 && s.opts.Estimator.Estimate(text) > maxTokens {
		lines = lines[1:]
		text = strings.Join(lines, "\n")
	}
	return text
}

func (s *Store) renderLines(es []Entry) []string {
	lines := make([]string, 0, len(es))
	var prev time.Time
	for i, e := range es {
		local := e.CreatedAt.In(s.opts.Location)
		if i > 0 && !sameHour(prev, local) {
			lines = append(lines, "--- "+local.Format(DividerFormat)+" ---")
		}
		prev = local
		lines = append(lines, e.Line())
	}
	return lines
}

func sameHour(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd && a.Hour() == b.Hour()
}

// Excerpt cuts text to at most limit runes, marking the cut with "...".
func Excerpt(text string, limit int) string {
	text = strings.TrimSpace(text)
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit]) + "..."
}
