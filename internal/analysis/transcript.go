package analysis

import (
	"strings"

	"github.com/vendalink/vendalink/internal/message"
)

const (
	labelAgent    = "[AGENT]"
	labelCustomer = "[CUSTOMER]"

	// Per-message and overall character caps. The transcript keeps the most
	// recent exchange and sacrifices older context to bound token cost.
	maxMessageChars    = 400
	maxTranscriptChars = 800

	mediaToken = "<media>"
)

type transcriptLine struct {
	direction message.Direction
	labeled   bool
	text      string
}

// BuildTranscript renders chronological messages as [AGENT]/[CUSTOMER]
// blocks, emitting the speaker label only when the speaker changes, then
// truncates from the oldest end to the overall cap. An empty result means
// there is nothing meaningful to analyze.
func BuildTranscript(msgs []message.Message) string {
	var lines []transcriptLine
	var last message.Direction
	for _, m := range msgs {
		body := strings.TrimSpace(m.Content)
		if body == "" && m.HasMedia {
			body = mediaToken
		}
		if body == "" {
			continue
		}
		if runes := []rune(body); len(runes) > maxMessageChars {
			body = string(runes[:maxMessageChars])
		}
		labeled := len(lines) == 0 || m.Direction != last
		if labeled {
			body = speakerLabel(m.Direction) + " " + body
		}
		lines = append(lines, transcriptLine{direction: m.Direction, labeled: labeled, text: body})
		last = m.Direction
	}
	if len(lines) == 0 {
		return ""
	}

	// Walk backward, keeping whole lines until the cap is hit.
	total := 0
	start := len(lines)
	for i := len(lines) - 1; i >= 0; i-- {
		cost := len([]rune(lines[i].text))
		if start < len(lines) {
			cost++ // joining newline
		}
		if total+cost > maxTranscriptChars && start < len(lines) {
			break
		}
		total += cost
		start = i
	}

	kept := lines[start:]
	if len(kept) == 0 {
		return ""
	}
	if !kept[0].labeled {
		kept[0].text = speakerLabel(kept[0].direction) + " " + kept[0].text
	}
	parts := make([]string, len(kept))
	for i, ln := range kept {
		parts[i] = ln.text
	}
	return strings.Join(parts, "\n")
}

func speakerLabel(direction message.Direction) string {
	if direction == message.DirectionOutbound {
		return labelAgent
	}
	return labelCustomer
}
