package dispatch

// MaxMessageLength is the platform ceiling for one outbound message, in runes.
const MaxMessageLength = 2000

// SplitMessage cuts text into consecutive chunks of at most limit runes.
func SplitMessage(text string, limit int) []string {
	if text == "" {
		return nil
	}
	r := []rune(text)
	if limit <= 0 || len(r) <= limit {
		return []string{text}
	}
	chunks := make([]string, 0, len(r)/limit+1)
	for len(r) > 0 {
		n := min(limit, len(r))
		chunks = append(chunks, string(r[:n]))
		r = r[n:]
	}
	return chunks
}
