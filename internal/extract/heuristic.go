package extract

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/scrypster/recall/pkg/types"
)

// HeuristicExtractor extracts candidate mentions with regular expressions and
// small lexical rules. It needs no network access and is fully deterministic,
// which makes it the safe default provider.
type HeuristicExtractor struct{}

// NewHeuristicExtractor creates the rule-based extractor.
func NewHeuristicExtractor() *HeuristicExtractor {
	return &HeuristicExtractor{}
}

var _ Extractor = (*HeuristicExtractor)(nil)

var (
	// capRunRe matches runs of 2-3 capitalized words ("Clare Johnson").
	// Single capitalized words are skipped: sentence starts make them too
	// ambiguous to treat as person names.
	capRunRe = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+){1,2}\b`)

	// orgRe matches names ending in a corporate suffix.
	orgRe = regexp.MustCompile(`\b[A-Z][A-Za-z]*(?:\s+[A-Z][A-Za-z]*)*\s+(?:Inc|LLC|Ltd|Corp|Corporation|Company|GmbH|Organization)\.?\b`)

	// projectRe matches "Project X" / "X Project" style names.
	projectRe = regexp.MustCompile(`\b(?:Project\s+[A-Z][A-Za-z0-9]+|[A-Z][A-Za-z0-9]+\s+Project)\b`)

	// locPrefixRe matches common place-name prefixes followed by a
	// capitalized word ("San Francisco", "New York", "Lake Geneva").
	locPrefixRe = regexp.MustCompile(`\b(?:San|Santa|New|Los|Las|Lake|Mount|Fort|Port|Saint|St\.)\s+[A-Z][a-z]+\b`)

	// locKeywordRe matches "<Name> City|Street|Avenue|Road|Valley" forms.
	locKeywordRe = regexp.MustCompile(`\b[A-Z][a-z]+\s+(?:City|State|Street|Avenue|Road|Valley|District)\b`)
)

// span is an internal candidate before overlap resolution.
type span struct {
	start, end int
	kind       types.EntityKind
	confidence float64
}

// kindRank orders kinds for overlap resolution: the more specific rule wins
// over the generic capitalized-run person rule.
func kindRank(k types.EntityKind) int {
	switch k {
	case types.KindOrganization:
		return 0
	case types.KindProject:
		return 1
	case types.KindLocation:
		return 2
	case types.KindPerson:
		return 3
	default:
		return 4
	}
}

// Extract runs all rules and resolves overlapping spans. The result is
// ordered by start offset and stable for identical input.
func (h *HeuristicExtractor) Extract(ctx context.Context, text string) ([]types.CandidateMention, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var spans []span
	collect := func(re *regexp.Regexp, kind types.EntityKind, confidence float64) {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			spans = append(spans, span{start: loc[0], end: loc[1], kind: kind, confidence: confidence})
		}
	}

	collect(orgRe, types.KindOrganization, 0.8)
	collect(projectRe, types.KindProject, 0.7)
	collect(locPrefixRe, types.KindLocation, 0.6)
	collect(locKeywordRe, types.KindLocation, 0.6)
	collect(capRunRe, types.KindPerson, 0.7)

	// Resolve overlaps: specific kinds beat the person rule, longer spans
	// beat shorter ones within the same rank.
	sort.Slice(spans, func(i, j int) bool {
		ri, rj := kindRank(spans[i].kind), kindRank(spans[j].kind)
		if ri != rj {
			return ri < rj
		}
		if li, lj := spans[i].end-spans[i].start, spans[j].end-spans[j].start; li != lj {
			return li > lj
		}
		return spans[i].start < spans[j].start
	})

	var kept []span
	for _, sp := range spans {
		overlaps := false
		for _, k := range kept {
			if sp.start < k.end && k.start < sp.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, sp)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].start < kept[j].start })

	candidates := make([]types.CandidateMention, 0, len(kept))
	for _, sp := range kept {
		candidates = append(candidates, types.CandidateMention{
			Surface:    text[sp.start:sp.end],
			Kind:       sp.kind,
			Start:      sp.start,
			End:        sp.end,
			Snippet:    contextSnippet(text, sp.start, sp.end),
			Confidence: sp.confidence,
		})
	}
	return candidates, nil
}
