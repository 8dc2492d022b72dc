package extract

import "strings"

// snippetRadius is how many bytes of context to keep on each side of a span.
const snippetRadius = 60

// contextSnippet returns the text surrounding [start,end) trimmed to word
// boundaries, for display alongside a mention.
func contextSnippet(text string, start, end int) string {
	from := start - snippetRadius
	if from < 0 {
		from = 0
	}
	to := end + snippetRadius
	if to > len(text) {
		to = len(text)
	}

	snippet := text[from:to]
	if from > 0 {
		if i := strings.IndexByte(snippet, ' '); i >= 0 {
			snippet = snippet[i+1:]
		}
		snippet = "..." + snippet
	}
	if to < len(text) {
		if i := strings.LastIndexByte(snippet, ' '); i >= 0 {
			snippet = snippet[:i]
		}
		snippet = snippet + "..."
	}
	return strings.TrimSpace(snippet)
}
