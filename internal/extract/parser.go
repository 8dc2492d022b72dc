package extract

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/scrypster/recall/pkg/types"
)

// entityResponse is one entity in the LLM's JSON reply.
type entityResponse struct {
	Name       string  `json:"name"`
	Kind       string  `json:"kind"`
	Confidence float64 `json:"confidence"`
}

// extractionResponse is the complete JSON reply shape.
type extractionResponse struct {
	Entities []entityResponse `json:"entities"`
}

// extractJSON pulls the first balanced JSON object out of a string that may
// contain extra text. LLMs add explanations and markdown fences despite
// instructions, so the parser scans for matching braces outside of strings
// rather than trusting the reply to be bare JSON.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text
	}

	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return text[start:]
}

// parseCandidates converts an LLM reply into candidate mentions anchored to
// the source text. Every occurrence of an extracted name becomes one
// candidate with real byte offsets; names that do not occur in the text are
// dropped (the model hallucinated them or rewrote the surface form).
func parseCandidates(reply, text string) ([]types.CandidateMention, error) {
	var resp extractionResponse
	if err := json.Unmarshal([]byte(extractJSON(reply)), &resp); err != nil {
		return nil, fmt.Errorf("parse extraction response: %w", err)
	}

	var candidates []types.CandidateMention
	for _, e := range resp.Entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		kind := types.ParseEntityKind(e.Kind)

		for _, occ := range findOccurrences(text, name) {
			candidates = append(candidates, types.CandidateMention{
				Surface:    text[occ.start:occ.end],
				Kind:       kind,
				Start:      occ.start,
				End:        occ.end,
				Snippet:    contextSnippet(text, occ.start, occ.end),
				Confidence: e.Confidence,
			})
		}
	}
	return candidates, nil
}

// occurrence is a half-open byte range into the source text.
type occurrence struct {
	start, end int
}

// findOccurrences returns the byte spans of every case-insensitive,
// non-overlapping occurrence of name in text, in order. The scan walks rune
// boundaries of the original text rather than lowercasing it up front:
// case mapping changes byte lengths for some runes (Turkish dotted I, for
// one), so offsets into a lowered copy do not index the original.
func findOccurrences(text, name string) []occurrence {
	nameRunes := utf8.RuneCountInString(name)
	if nameRunes == 0 {
		return nil
	}

	var occs []occurrence
	for i := 0; i < len(text); {
		end, ok := runeSpanEnd(text, i, nameRunes)
		if ok && strings.EqualFold(text[i:end], name) {
			occs = append(occs, occurrence{start: i, end: end})
			i = end
			continue
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	return occs
}

// runeSpanEnd returns the byte offset just past n runes starting at start,
// or false when fewer than n runes remain.
func runeSpanEnd(text string, start, n int) (int, bool) {
	i := start
	for ; n > 0; n-- {
		if i >= len(text) {
			return 0, false
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	return i, true
}
