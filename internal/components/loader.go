package components

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

var allowedPriorities = map[string]struct{}{
	"low":      {},
	"medium":   {},
	"high":     {},
	"critical": {},
}

// LoadComponent parses a Markdown file with YAML frontmatter.
// The file must start with "---", followed by YAML frontmatter,
// then another "---", and finally the instruction text.
func LoadComponent(reader io.Reader) (*Component, error) {
	// Use a large buffer to support components >64KB
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read component file: %w", err)
		}
		return nil, fmt.Errorf("component file is empty")
	}

	firstLine := strings.TrimSpace(scanner.Text())
	if firstLine != "---" {
		return nil, fmt.Errorf("component file must start with YAML frontmatter (---), got: %q", firstLine)
	}

	var frontmatter bytes.Buffer
	foundEnd := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "---" {
			foundEnd = true
			break
		}
		frontmatter.WriteString(line + "\n")
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading frontmatter: %w", err)
	}

	if !foundEnd {
		return nil, fmt.Errorf("unterminated YAML frontmatter (missing closing ---)")
	}

	// Enabled defaults to true; an explicit "enabled: false" overrides it.
	comp := Component{Enabled: true}
	if err := yaml.Unmarshal(frontmatter.Bytes(), &comp); err != nil {
		return nil, fmt.Errorf("failed to parse YAML frontmatter: %w", err)
	}

	var body bytes.Buffer
	for scanner.Scan() {
		body.WriteString(scanner.Text() + "\n")
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading instruction text: %w", err)
	}

	comp.InstructionText = strings.TrimSpace(body.String())

	if err := validateComponent(&comp); err != nil {
		return nil, err
	}

	return &comp, nil
}

// validateComponent checks that required fields are present and applies defaults.
func validateComponent(c *Component) error {
	if c.Name == "" {
		return fmt.Errorf("component name is required")
	}

	for _, r := range c.Name {
		if !isValidNameChar(r) {
			return fmt.Errorf("component name contains invalid character: %q (allowed: a-z, 0-9, -, _)", r)
		}
	}

	if c.Version == "" {
		c.Version = "1.0.0"
	}
	if c.ComponentType == "" {
		c.ComponentType = TypeGroup
	}
	if c.Priority == "" {
		c.Priority = "medium"
	}
	c.Priority = strings.ToLower(c.Priority)
	if _, ok := allowedPriorities[c.Priority]; !ok {
		return fmt.Errorf("component %s has unknown priority %q", c.Name, c.Priority)
	}
	if c.EstimatedDurationMinutes < 0 {
		return fmt.Errorf("component %s has negative estimated_duration_minutes", c.Name)
	}

	if c.InstructionText == "" {
		return fmt.Errorf("component instruction text is empty")
	}

	return nil
}

// isValidNameChar returns true if the character is valid in a component name.
func isValidNameChar(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r == '-' || r == '_'
}

// CalculateContentHash computes SHA256 hash of component file content.
func CalculateContentHash(content []byte) string {
	hash := sha256.Sum256(content)
	return fmt.Sprintf("%x", hash)
}

// ParseVersion extracts major, minor, patch from a semver string.
// Returns (0, 0, 0) if parsing fails.
func ParseVersion(version string) (major, minor, patch int) {
	_, _ = fmt.Sscanf(version, "%d.%d.%d", &major, &minor, &patch)
	return
}

// CompareVersions returns -1, 0 or 1 as a is older than, equal to or newer than b.
func CompareVersions(a, b string) int {
	aMaj, aMin, aPat := ParseVersion(a)
	bMaj, bMin, bPat := ParseVersion(b)

	switch {
	case aMaj != bMaj:
		return compareInt(aMaj, bMaj)
	case aMin != bMin:
		return compareInt(aMin, bMin)
	default:
		return compareInt(aPat, bPat)
	}
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
