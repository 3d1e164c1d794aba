package text

import (
	"strings"
	"unicode"
)

// Chunk is a bounded segment of a source message. Start and End are rune
// offsets into the original text, so concatenating chunks in index order
// reconstructs the message (consecutive chunks share the overlap window).
type Chunk struct {
	MessageID string
	Index     int
	Text      string
	Start     int
	End       int
}

// Split cuts a message into chunks of at most maxChars runes. Cuts prefer
// paragraph breaks, then sentence ends, then whitespace, and fall back to a
// hard cut. Consecutive chunks overlap by overlap runes so context at a cut
// boundary is not lost.
//
// Splitting is deterministic: identical input always yields identical
// boundaries. That property is what keeps derived vector ids stable across
// re-embedding runs.
//
// Empty or whitespace-only text yields no chunks.
func Split(messageID, content string, maxChars, overlap int) []Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if maxChars <= 0 {
		maxChars = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= maxChars {
		overlap = maxChars - 1
	}

	runes := []rune(content)
	total := len(runes)

	if total <= maxChars {
		return []Chunk{{
			MessageID: messageID,
			Index:     0,
			Text:      content,
			Start:     0,
			End:       total,
		}}
	}

	var chunks []Chunk
	start := 0
	for start < total {
		end := start + maxChars
		if end >= total {
			end = total
		} else {
			end = cutPoint(runes, start, end)
		}

		chunks = append(chunks, Chunk{
			MessageID: messageID,
			Index:     len(chunks),
			Text:      string(runes[start:end]),
			Start:     start,
			End:       end,
		})

		if end >= total {
			break
		}

		next := end - overlap
		// Guarantee forward progress even with degenerate overlap settings.
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks
}

// cutPoint picks the best boundary in (min, limit]. The search window is the
// back half of the chunk so a boundary never produces a tiny fragment.
func cutPoint(runes []rune, start, limit int) int {
	min := start + (limit-start)/2

	// Paragraph break: cut after the blank line.
	for i := limit - 1; i > min; i-- {
		if runes[i] == '\n' && i > 0 && runes[i-1] == '\n' {
			return i + 1
		}
	}

	// Sentence end followed by whitespace.
	for i := limit - 1; i > min; i-- {
		if isSentenceEnd(runes[i]) && i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			return i + 1
		}
	}

	// Any whitespace.
	for i := limit - 1; i > min; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}

	// Hard cut.
	return limit
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}
