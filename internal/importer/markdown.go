// Package importer brings Markdown files into Recall as source items. Files
// may carry YAML frontmatter declaring title, type, date, and tags; a file
// without frontmatter imports as a plain document.
package importer

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/recall/internal/ingest"
	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// ParsedFile is one Markdown file after frontmatter extraction.
type ParsedFile struct {
	// Title comes from frontmatter, the first H1, or the file name.
	Title string

	// Body is the Markdown body with frontmatter stripped.
	Body string

	// SourceType is read from the frontmatter "type" field; defaults to
	// document. Memory is not a valid import target.
	SourceType types.SourceType

	// Tags is the merged set of frontmatter and inline #tags.
	Tags []string

	// Timestamp is from the frontmatter date field, or zero if absent.
	Timestamp time.Time

	// Frontmatter holds the raw parsed key/value pairs.
	Frontmatter map[string]interface{}
}

// ParseMarkdownFile parses one Markdown file's content. relativePath is used
// to derive the fallback title.
func ParseMarkdownFile(content []byte, relativePath string) (*ParsedFile, error) {
	fm, body, err := splitFrontmatter(string(content))
	if err != nil {
		return nil, fmt.Errorf("frontmatter parse error in %s: %w", relativePath, err)
	}

	title := extractString(fm, "title", "")
	if title == "" {
		if h1 := extractH1(body); h1 != "" {
			title = h1
		} else {
			title = titleFromPath(relativePath)
		}
	}

	st := types.SourceDocument
	if raw := extractString(fm, "type", ""); raw != "" {
		candidate := types.SourceType(strings.ToLower(raw))
		if candidate.Valid() && candidate != types.SourceMemory {
			st = candidate
		}
	}

	return &ParsedFile{
		Title:       title,
		Body:        strings.TrimSpace(body),
		SourceType:  st,
		Tags:        mergeTags(extractTags(fm), extractInlineTags(body)),
		Timestamp:   extractTimestamp(fm),
		Frontmatter: fm,
	}, nil
}

// Importer walks directories of Markdown files and ingests them.
type Importer struct {
	ingestor *ingest.Service
}

// NewImporter creates an importer over the ingestion service.
func NewImporter(ingestor *ingest.Service) *Importer {
	return &Importer{ingestor: ingestor}
}

// Summary reports one import run. Failed files are logged and skipped so a
// single bad file cannot abort a directory import.
type Summary struct {
	Imported int      `json:"imported"`
	Failed   int      `json:"failed"`
	Degraded int      `json:"degraded"`
	Errors   []string `json:"errors,omitempty"`
}

// ImportFile ingests a single Markdown file. The source id is derived from
// the path relative to root, so re-importing the same file updates in place.
func (im *Importer) ImportFile(ctx context.Context, path, root string) (*ingest.Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("importer: read %s: %w", path, err)
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}

	parsed, err := ParseMarkdownFile(content, rel)
	if err != nil {
		return nil, err
	}

	item := &storage.SourceItem{
		Ref:       types.SourceRef{Type: parsed.SourceType, ID: "md:" + slugify(rel)},
		Title:     parsed.Title,
		Body:      parsed.Body,
		Timestamp: parsed.Timestamp,
	}
	if len(parsed.Tags) > 0 {
		item.Metadata = map[string]string{"tags": strings.Join(parsed.Tags, ",")}
	}
	return im.ingestor.IngestItem(ctx, item)
}

// ImportDir ingests every .md/.markdown file under root.
func (im *Importer) ImportDir(ctx context.Context, root string) (*Summary, error) {
	summary := &Summary{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !isMarkdown(path) {
			return nil
		}

		res, err := im.ImportFile(ctx, path, root)
		if err != nil {
			log.Printf("importer: skipping %s: %v", path, err)
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", path, err))
			return nil
		}
		summary.Imported++
		if res.Degraded {
			summary.Degraded++
		}
		return nil
	})
	if err != nil {
		return summary, fmt.Errorf("importer: walk %s: %w", root, err)
	}
	return summary, nil
}

func isMarkdown(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

// splitFrontmatter separates YAML frontmatter (between --- delimiters) from
// the Markdown body. Returns an empty map and the full text when no
// frontmatter is found.
func splitFrontmatter(text string) (map[string]interface{}, string, error) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return map[string]interface{}{}, text, nil
	}

	closeIdx := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			closeIdx = i
			break
		}
	}
	if closeIdx == -1 {
		return map[string]interface{}{}, text, nil
	}

	fmText := strings.Join(lines[1:closeIdx], "\n")
	fm := make(map[string]interface{})
	if err := yaml.Unmarshal([]byte(fmText), &fm); err != nil {
		return map[string]interface{}{}, text, fmt.Errorf("invalid YAML: %w", err)
	}

	body := strings.Join(lines[closeIdx+1:], "\n")
	return fm, body, nil
}

// titleFromPath derives a readable title from the file name.
func titleFromPath(rel string) string {
	base := filepath.Base(rel)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	name = strings.ReplaceAll(name, "-", " ")
	name = strings.ReplaceAll(name, "_", " ")
	return strings.TrimSpace(name)
}

// extractH1 returns the text of the first ATX heading (# ...) in the body.
func extractH1(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

// extractTags reads tags from frontmatter. Handles both list and string forms.
func extractTags(fm map[string]interface{}) []string {
	raw, ok := fm["tags"]
	if !ok {
		return nil
	}

	switch v := raw.(type) {
	case []interface{}:
		var tags []string
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				tags = append(tags, s)
			}
		}
		return tags
	case string:
		var tags []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
		return tags
	}
	return nil
}

// extractTimestamp reads a date field from frontmatter, trying the common
// layouts.
func extractTimestamp(fm map[string]interface{}) time.Time {
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}

	for _, key := range []string{"date", "created", "created_at"} {
		raw, ok := fm[key]
		if !ok {
			continue
		}
		var s string
		switch v := raw.(type) {
		case string:
			s = v
		case time.Time:
			return v
		default:
			s = fmt.Sprintf("%v", v)
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

// extractString pulls a string value from frontmatter by key with a default.
func extractString(fm map[string]interface{}, key, defaultVal string) string {
	v, ok := fm[key]
	if !ok {
		return defaultVal
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return defaultVal
}

var inlineTagRe = regexp.MustCompile(`(?:^|\s)#([a-zA-Z][\w/-]*)`)

// extractInlineTags finds #hashtag patterns in body text.
func extractInlineTags(body string) []string {
	seen := make(map[string]bool)
	var tags []string
	for _, match := range inlineTagRe.FindAllStringSubmatch(body, -1) {
		tag := match[1]
		lower := strings.ToLower(tag)
		if !seen[lower] {
			seen[lower] = true
			tags = append(tags, tag)
		}
	}
	return tags
}

// mergeTags combines two tag slices deduplicating by lowercase value.
func mergeTags(a, b []string) []string {
	seen := make(map[string]bool)
	var result []string
	for _, tag := range append(a, b...) {
		lower := strings.ToLower(tag)
		if !seen[lower] {
			seen[lower] = true
			result = append(result, tag)
		}
	}
	return result
}

// slugify makes a relative path safe to use as a stable source id.
func slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(filepath.ToSlash(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '/' || r == '.' {
			b.WriteRune(r)
		} else {
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
