package components

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	ometrics "github.com/PadsterH2012/archon-plus-sub002/internal/metrics"
	"github.com/PadsterH2012/archon-plus-sub002/internal/templates"
)

// NewRegistry creates a new empty component registry.
func NewRegistry() *Registry {
	return &Registry{
		components: make(map[string]Entry),
		byCategory: make(map[string][]string),
		byName:     make(map[string][]Entry),
	}
}

// LoadDirectory scans a directory recursively for *.md component files.
func (r *Registry) LoadDirectory(root string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			// Directory doesn't exist, skip silently (common for optional overlays)
			return nil
		}
		return fmt.Errorf("failed to stat directory %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || filepath.Ext(path) != ".md" {
			return nil
		}

		if d.Name() == "README.md" {
			return nil
		}

		return r.loadFileLocked(path)
	})
}

// LoadDirectories loads every directory in order and finalizes the registry.
func (r *Registry) LoadDirectories(dirs []string) error {
	for _, dir := range dirs {
		if err := r.LoadDirectory(dir); err != nil {
			return err
		}
	}
	return r.Finalize()
}

// Reload rebuilds the registry from dirs and swaps it in only on success.
func (r *Registry) Reload(dirs []string) error {
	fresh := NewRegistry()
	if err := fresh.LoadDirectories(dirs); err != nil {
		ometrics.RegistryReloads.WithLabelValues("components", "error").Inc()
		return err
	}

	fresh.mu.RLock()
	components, byCategory, byName := fresh.components, fresh.byCategory, fresh.byName
	fresh.mu.RUnlock()

	r.mu.Lock()
	r.components = components
	r.byCategory = byCategory
	r.byName = byName
	r.mu.Unlock()
	ometrics.RegistryReloads.WithLabelValues("components", "success").Inc()
	return nil
}

// Register adds a component that did not come from disk, such as one built in tests.
func (r *Registry) Register(c *Component) error {
	clone := *c
	if err := validateComponent(&clone); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(&clone, "", []byte(clone.InstructionText))
}

// loadFileLocked loads a single component file. Caller must hold the lock.
func (r *Registry) loadFileLocked(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read component file %s: %w", path, err)
	}

	comp, err := LoadComponent(bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("failed to parse component from %s: %w", path, err)
	}

	return r.addLocked(comp, path, content)
}

func (r *Registry) addLocked(comp *Component, path string, content []byte) error {
	key := fmt.Sprintf("%s@%s", comp.Name, comp.Version)
	entry := Entry{
		Key:         key,
		Component:   comp,
		SourcePath:  path,
		ContentHash: CalculateContentHash(content),
		LoadedAt:    time.Now(),
	}

	if existing, ok := r.components[key]; ok {
		return fmt.Errorf("duplicate component %s found in %s (already loaded from %s)",
			key, path, existing.SourcePath)
	}

	r.components[key] = entry
	r.byName[comp.Name] = append(r.byName[comp.Name], entry)

	// Unversioned key always points at the highest version.
	if latest, ok := r.components[comp.Name]; !ok || CompareVersions(comp.Version, latest.Component.Version) > 0 {
		r.components[comp.Name] = entry
	}

	if comp.Category != "" {
		r.byCategory[comp.Category] = append(r.byCategory[comp.Category], key)
	}

	ometrics.ComponentsLoaded.WithLabelValues(comp.Category).Inc()
	return nil
}

// Get retrieves a component by key (name or name@version).
func (r *Registry) Get(key string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.components[key]
	return entry, ok
}

// GetComponent implements templates.ComponentSource. Disabled components are
// reported as missing.
func (r *Registry) GetComponent(_ context.Context, name string) (*templates.Component, bool, error) {
	entry, ok := r.Get(strings.TrimSpace(name))
	if !ok || !entry.Component.Enabled {
		return nil, false, nil
	}
	return entry.Component.ToTemplateComponent(), true, nil
}

// List returns all components as summaries (latest versions only).
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]Summary, 0, len(r.byName))
	for name := range r.byName {
		if latest, ok := r.components[name]; ok {
			summaries = append(summaries, summarize(latest.Component))
		}
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Name < summaries[j].Name
	})
	return summaries
}

// ListByCategory filters components by category.
func (r *Registry) ListByCategory(category string) []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys, ok := r.byCategory[category]
	if !ok {
		return []Summary{}
	}

	seen := make(map[string]bool)
	summaries := make([]Summary, 0, len(keys))

	for _, key := range keys {
		entry, ok := r.components[key]
		if !ok {
			continue
		}

		// Deduplicate by name (in case multiple versions in same category)
		if seen[entry.Component.Name] {
			continue
		}
		seen[entry.Component.Name] = true

		if latest, ok := r.components[entry.Component.Name]; ok {
			entry = latest
		}
		summaries = append(summaries, summarize(entry.Component))
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Name < summaries[j].Name
	})
	return summaries
}

func summarize(c *Component) Summary {
	tools := c.RequiredTools
	if tools == nil {
		tools = []string{}
	}
	return Summary{
		Name:                     c.Name,
		Version:                  c.Version,
		ComponentType:            c.ComponentType,
		Category:                 c.Category,
		Description:              c.Description,
		EstimatedDurationMinutes: c.EstimatedDurationMinutes,
		Priority:                 c.Priority,
		RequiredTools:            tools,
		Enabled:                  c.Enabled,
	}
}

// Categories returns all unique categories.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	categories := make([]string, 0, len(r.byCategory))
	for cat := range r.byCategory {
		categories = append(categories, cat)
	}
	sort.Strings(categories)
	return categories
}

// Count returns the total number of unique components (by name, not version).
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Finalize validates all loaded components after all directories are loaded.
func (r *Registry) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, entries := range r.byName {
		sort.Slice(entries, func(i, j int) bool {
			return CompareVersions(entries[i].Component.Version, entries[j].Component.Version) > 0
		})
		r.byName[name] = entries
	}

	// Verification steps must say which tools they run.
	for _, entry := range r.components {
		c := entry.Component
		if c.ComponentType == TypeVerification && len(c.RequiredTools) == 0 {
			return fmt.Errorf("verification component %q must declare required_tools", c.Name)
		}
	}

	return nil
}

// GetVersions returns all versions of a component by name, sorted descending.
func (r *Registry) GetVersions(name string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries, ok := r.byName[name]
	if !ok {
		return nil
	}

	result := make([]Entry, len(entries))
	copy(result, entries)
	return result
}
