// Package toolcatalog suggests MCP tool workflows for a task from a YAML
// catalog, caching results in Redis.
package toolcatalog

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tool is an MCP workflow the catalog can suggest.
type Tool struct {
	Name        string   `yaml:"name"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Category    string   `yaml:"category"`
	Keywords    []string `yaml:"keywords"`
}

type catalogFile struct {
	Tools []Tool `yaml:"tools"`
}

// Catalog is an immutable set of tools with a content checksum.
type Catalog struct {
	tools    []Tool
	checksum string
}

// LoadCatalog reads a tool catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tool catalog: %w", err)
	}
	defer f.Close()

	c, err := DecodeCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// DecodeCatalog parses catalog YAML. Tool names must be unique and every tool
// needs at least one keyword.
func DecodeCatalog(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read tool catalog: %w", err)
	}

	var file catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode tool catalog: %w", err)
	}
	return NewCatalog(file.Tools, data)
}

// NewCatalog validates tools and normalises their keywords. raw feeds the
// checksum; nil hashes the tool names and keywords instead.
func NewCatalog(tools []Tool, raw []byte) (*Catalog, error) {
	seen := make(map[string]struct{}, len(tools))
	out := make([]Tool, 0, len(tools))
	for i, t := range tools {
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			return nil, fmt.Errorf("tool %d: name is required", i)
		}
		if _, dup := seen[t.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", t.Name)
		}
		seen[t.Name] = struct{}{}

		keywords := make([]string, 0, len(t.Keywords))
		for _, k := range t.Keywords {
			k = strings.ToLower(strings.TrimSpace(k))
			if k != "" {
				keywords = append(keywords, k)
			}
		}
		if len(keywords) == 0 {
			return nil, fmt.Errorf("tool %q: at least one keyword is required", t.Name)
		}
		t.Keywords = keywords
		out = append(out, t)
	}

	if raw == nil {
		var b strings.Builder
		for _, t := range out {
			b.WriteString(t.Name)
			b.WriteString(":")
			b.WriteString(strings.Join(t.Keywords, ","))
			b.WriteString("\n")
		}
		raw = []byte(b.String())
	}
	sum := sha256.Sum256(raw)

	return &Catalog{tools: out, checksum: hex.EncodeToString(sum[:])}, nil
}

// Tools returns a copy of the catalog entries.
func (c *Catalog) Tools() []Tool {
	out := make([]Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// Checksum identifies the catalog content. Cache keys include it so a reload
// never serves suggestions scored against an older catalog.
func (c *Catalog) Checksum() string {
	return c.checksum
}

// Len returns the number of tools.
func (c *Catalog) Len() int {
	return len(c.tools)
}
