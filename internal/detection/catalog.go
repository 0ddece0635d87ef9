package detection

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultPatternWeight     = 1.0
	defaultPatternSaturation = 2
)

// KeywordPattern is a named set of keywords that signals a workflow category.
// Saturation is the number of matched keywords at which confidence reaches
// Weight; it is capped by the keyword count.
type KeywordPattern struct {
	Name       string   `yaml:"name" json:"pattern_name"`
	Category   string   `yaml:"category" json:"category"`
	Keywords   []string `yaml:"keywords" json:"keywords"`
	Weight     float64  `yaml:"weight" json:"weight"`
	Saturation int      `yaml:"saturation" json:"saturation"`
}

// Catalog is the immutable keyword/technology configuration used by the
// matcher and the parameter extractor. Build it once and share it.
type Catalog struct {
	patterns     []KeywordPattern
	technologies []string
}

// catalogFile is the on-disk representation of a catalog.
type catalogFile struct {
	Patterns     []KeywordPattern `yaml:"patterns"`
	Technologies []string         `yaml:"technologies"`
}

// NewCatalog normalises and validates the supplied patterns and technology
// vocabulary. Keywords and technologies are lower-cased and deduplicated.
func NewCatalog(patterns []KeywordPattern, technologies []string) (*Catalog, error) {
	c := &Catalog{
		patterns:     make([]KeywordPattern, 0, len(patterns)),
		technologies: make([]string, 0, len(technologies)),
	}

	seen := make(map[string]struct{}, len(patterns))
	for i, p := range patterns {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, fmt.Errorf("pattern at index %d is missing a name", i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate pattern '%s'", name)
		}
		seen[name] = struct{}{}

		keywords := normaliseTerms(p.Keywords)
		if len(keywords) == 0 {
			return nil, fmt.Errorf("pattern '%s' has no keywords", name)
		}

		weight := p.Weight
		if weight <= 0 {
			weight = defaultPatternWeight
		}
		if weight > 1 {
			weight = 1
		}
		saturation := p.Saturation
		if saturation <= 0 {
			saturation = defaultPatternSaturation
		}

		c.patterns = append(c.patterns, KeywordPattern{
			Name:       name,
			Category:   strings.TrimSpace(p.Category),
			Keywords:   keywords,
			Weight:     weight,
			Saturation: saturation,
		})
	}

	c.technologies = normaliseTerms(technologies)
	return c, nil
}

// LoadCatalog reads a YAML catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	defer f.Close()
	c, err := DecodeCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	return c, nil
}

// DecodeCatalog parses a YAML catalog. A file that omits the technology list
// inherits the default vocabulary.
func DecodeCatalog(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var file catalogFile
	if err := dec.Decode(&file); err != nil {
		return nil, err
	}
	techs := file.Technologies
	if len(techs) == 0 {
		techs = defaultTechnologies
	}
	return NewCatalog(file.Patterns, techs)
}

// Patterns returns a copy of the catalog patterns in catalog order.
func (c *Catalog) Patterns() []KeywordPattern {
	out := make([]KeywordPattern, len(c.patterns))
	for i, p := range c.patterns {
		p.Keywords = append([]string(nil), p.Keywords...)
		out[i] = p
	}
	return out
}

// Technologies returns a copy of the known-technology vocabulary.
func (c *Catalog) Technologies() []string {
	return append([]string(nil), c.technologies...)
}

func normaliseTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultPatterns, defaultTechnologies)
	if err != nil {
		panic(fmt.Sprintf("built-in keyword catalog is invalid: %v", err))
	}
	return c
}

var defaultPatterns = []KeywordPattern{
	{Name: "documentation", Category: "docs", Keywords: []string{"documentation", "docs", "readme", "document", "guide", "tutorial"}},
	{Name: "testing", Category: "quality", Keywords: []string{"test", "tests", "testing", "unit test", "coverage", "integration test"}},
	{Name: "bug_fix", Category: "maintenance", Keywords: []string{"bug", "fix", "error", "crash", "issue", "regression"}},
	{Name: "deployment", Category: "operations", Keywords: []string{"deploy", "deployment", "release", "rollout", "staging", "production"}},
	{Name: "authentication", Category: "security", Keywords: []string{"auth", "authentication", "oauth", "login", "sso", "jwt"}},
	{Name: "database_migration", Category: "data", Keywords: []string{"migration", "migrate", "schema", "database", "sql"}},
	{Name: "refactoring", Category: "maintenance", Keywords: []string{"refactor", "refactoring", "cleanup", "restructure", "simplify"}},
	{Name: "code_review", Category: "quality", Keywords: []string{"review", "pull request", "pr", "code review", "feedback"}},
	{Name: "api_development", Category: "development", Keywords: []string{"api", "endpoint", "rest", "graphql", "route"}},
	{Name: "security_audit", Category: "security", Keywords: []string{"security", "vulnerability", "audit", "cve", "penetration"}},
	{Name: "performance", Category: "quality", Keywords: []string{"performance", "optimize", "latency", "slow", "benchmark", "profiling"}},
	{Name: "research", Category: "discovery", Keywords: []string{"research", "investigate", "explore", "evaluate", "compare"}},
	{Name: "containerization", Category: "operations", Keywords: []string{"docker", "container", "dockerfile", "kubernetes", "helm"}},
	{Name: "ui_development", Category: "development", Keywords: []string{"ui", "frontend", "component", "css", "layout", "page"}},
}

var defaultTechnologies = []string{
	"react", "vue", "angular", "svelte", "nextjs", "typescript", "javascript",
	"python", "django", "flask", "fastapi", "golang", "rust", "java", "kotlin",
	"ruby", "rails", "php", "node", "nodejs", "docker", "kubernetes", "helm",
	"terraform", "ansible", "aws", "gcp", "azure", "github", "gitlab", "jenkins",
	"postgres", "postgresql", "mysql", "sqlite", "mongodb", "redis", "supabase",
	"kafka", "rabbitmq", "graphql", "grpc", "openai", "claude",
	"tailwind", "vite", "webpack", "pytest", "jest", "playwright",
}
