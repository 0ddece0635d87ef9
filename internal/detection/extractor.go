package detection

import (
	"regexp"
	"sort"
	"strings"

	"github.com/PadsterH2012/archon-plus-sub002/internal/textsim"
)

var (
	urlPattern    = regexp.MustCompile(`[A-Za-z][A-Za-z0-9+.\-]*://[^\s"'<>]+`)
	filePattern   = regexp.MustCompile(`(?:[A-Za-z0-9_.\-]+/)+[A-Za-z0-9_\-]+\.[A-Za-z][A-Za-z0-9]*\b`)
	quotedPattern = regexp.MustCompile(`"([^"]+)"`)
)

// trailing punctuation that belongs to the surrounding sentence, not the URL
const urlTrailingPunct = ".,;:!?)]}"

// Extractor pulls URLs, file paths, quoted phrases and known technology names
// out of free text.
type Extractor struct {
	technologies []string
}

// NewExtractor creates an extractor using the technology vocabulary of
// catalog. A nil catalog selects the built-in default.
func NewExtractor(catalog *Catalog) *Extractor {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Extractor{technologies: catalog.technologies}
}

// Extract applies every extraction rule to text. Each category is
// deduplicated and keeps first-seen order.
func (e *Extractor) Extract(text string) ExtractedParameters {
	params := EmptyParameters()
	if strings.TrimSpace(text) == "" {
		return params
	}

	params.URLs = extractURLs(text)
	params.Files = extractFiles(text)
	params.QuotedStrings = extractQuoted(text)
	params.Technologies = e.extractTechnologies(text)
	return params
}

func extractURLs(text string) []string {
	out := []string{}
	seen := make(map[string]struct{})
	for _, raw := range urlPattern.FindAllString(text, -1) {
		u := strings.TrimRight(raw, urlTrailingPunct)
		if !strings.Contains(u, "://") || strings.HasSuffix(u, "://") {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// extractFiles masks URL spans before scanning so a URL path is never
// reported as a file.
func extractFiles(text string) []string {
	masked := urlPattern.ReplaceAllStringFunc(text, func(m string) string {
		return strings.Repeat(" ", len(m))
	})

	out := []string{}
	seen := make(map[string]struct{})
	for _, f := range filePattern.FindAllString(masked, -1) {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func extractQuoted(text string) []string {
	out := []string{}
	seen := make(map[string]struct{})
	for _, m := range quotedPattern.FindAllStringSubmatch(text, -1) {
		q := m[1]
		if strings.TrimSpace(q) == "" {
			continue
		}
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return out
}

func (e *Extractor) extractTechnologies(text string) []string {
	tokens := textsim.Tokenize(text)

	type hit struct {
		name string
		pos  int
	}
	var hits []hit
	for _, tech := range e.technologies {
		if pos := textsim.IndexPhrase(tokens, tech); pos >= 0 {
			hits = append(hits, hit{name: tech, pos: pos})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.name)
	}
	return out
}
