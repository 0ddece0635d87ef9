package templates

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ometrics "github.com/PadsterH2012/archon-plus-sub002/internal/metrics"
)

// Entry is a registered template plus where it came from.
type Entry struct {
	Key         string
	Template    *Definition
	SourcePath  string
	ContentHash string
	LoadedAt    time.Time
}

// TemplateSummary is the listing shape served by the API and MCP tools.
type TemplateSummary struct {
	Name         string       `json:"name"`
	Title        string       `json:"title"`
	Version      string       `json:"version,omitempty"`
	TemplateType TemplateType `json:"template_type"`
	Category     string       `json:"category,omitempty"`
	Key          string       `json:"key"`
	Components   []string     `json:"components"`
	ContentHash  string       `json:"content_hash"`
	SourcePath   string       `json:"source_path,omitempty"`
}

// snapshot is an immutable view of the registry. Writers build a new one and
// publish it; readers never lock.
type snapshot struct {
	entries map[string]Entry
	// versions holds the keys registered under each name, lowest version
	// first.
	versions map[string][]string
}

func (s *snapshot) clone() *snapshot {
	next := &snapshot{
		entries:  maps.Clone(s.entries),
		versions: make(map[string][]string, len(s.versions)),
	}
	for name, keys := range s.versions {
		next.versions[name] = append([]string(nil), keys...)
	}
	return next
}

func (s *snapshot) add(e Entry) error {
	if _, dup := s.entries[e.Key]; dup {
		ometrics.TemplateValidationErrors.WithLabelValues("duplicate").Inc()
		return fmt.Errorf("duplicate template key '%s'", e.Key)
	}
	s.entries[e.Key] = e
	name := e.Template.Name
	keys := append(s.versions[name], e.Key)
	sort.Slice(keys, func(i, j int) bool {
		return s.entries[keys[i]].Template.Version < s.entries[keys[j]].Template.Version
	})
	s.versions[name] = keys
	ometrics.TemplatesLoaded.WithLabelValues(name).Inc()
	return nil
}

func emptySnapshot() *snapshot {
	return &snapshot{entries: map[string]Entry{}, versions: map[string][]string{}}
}

// Registry holds the templates available for expansion.
type Registry struct {
	writeMu sync.Mutex
	current atomic.Pointer[snapshot]
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(emptySnapshot())
	return r
}

// LoadDirectory adds every valid template under root. Bad files are skipped
// and reported together as a *LoadError; the good ones are still added.
func (r *Registry) LoadDirectory(root string) error {
	files, failures, err := scanDir(root)
	if err != nil {
		return err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	next := r.current.Load().clone()
	failures = addFiles(next, files, failures)
	r.current.Store(next)
	if len(failures) > 0 {
		return &LoadError{Failures: failures}
	}
	return nil
}

// Reload replaces the registry contents with root. Any skipped file aborts
// the reload and the previous templates stay in place.
func (r *Registry) Reload(root string) error {
	files, failures, err := scanDir(root)
	if err == nil {
		next := emptySnapshot()
		if failures = addFiles(next, files, failures); len(failures) == 0 {
			r.writeMu.Lock()
			r.current.Store(next)
			r.writeMu.Unlock()
			ometrics.RegistryReloads.WithLabelValues("templates", "success").Inc()
			return nil
		}
		err = &LoadError{Failures: failures}
	}
	ometrics.RegistryReloads.WithLabelValues("templates", "error").Inc()
	return err
}

func addFiles(s *snapshot, files []loadedFile, failures []string) []string {
	now := time.Now().UTC()
	for _, f := range files {
		err := s.add(Entry{
			Key:         MakeKey(f.def.Name, f.def.Version),
			Template:    f.def,
			SourcePath:  f.path,
			ContentHash: f.hash,
			LoadedAt:    now,
		})
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", f.path, err))
		}
	}
	return failures
}

// Register adds a template built in code.
func (r *Registry) Register(tpl *Definition) error {
	if err := checkDefinition(tpl); err != nil {
		return err
	}
	sum := sha256.Sum256([]byte(tpl.Content))

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	next := r.current.Load().clone()
	err := next.add(Entry{
		Key:         MakeKey(tpl.Name, tpl.Version),
		Template:    cloneDefinition(tpl),
		ContentHash: hex.EncodeToString(sum[:]),
		LoadedAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	r.current.Store(next)
	return nil
}

// Get looks up an exact key as produced by MakeKey.
func (r *Registry) Get(key string) (Entry, bool) {
	e, ok := r.current.Load().entries[key]
	return e, ok
}

// Find resolves name and an optional version. Without a version the
// unversioned entry is preferred, then the highest version.
func (r *Registry) Find(name, version string) (Entry, bool) {
	name, version = strings.TrimSpace(name), strings.TrimSpace(version)
	if name == "" {
		return Entry{}, false
	}
	s := r.current.Load()
	if e, ok := s.entries[MakeKey(name, version)]; ok || version != "" {
		return e, ok
	}
	keys := s.versions[name]
	if len(keys) == 0 {
		return Entry{}, false
	}
	return s.entries[keys[len(keys)-1]], true
}

// GetTemplate satisfies TemplateSource. "name@version" pins a version.
func (r *Registry) GetTemplate(_ context.Context, name string) (*Definition, bool, error) {
	version := ""
	if at := strings.LastIndex(name, "@"); at > 0 {
		name, version = name[:at], name[at+1:]
	}
	e, ok := r.Find(name, version)
	if !ok {
		return nil, false, nil
	}
	return cloneDefinition(e.Template), true, nil
}

// List returns every template ordered by name then version.
func (r *Registry) List() []TemplateSummary {
	s := r.current.Load()
	names := make([]string, 0, len(s.versions))
	for name := range s.versions {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]TemplateSummary, 0, len(s.entries))
	for _, name := range names {
		for _, key := range s.versions[name] {
			out = append(out, summarize(s.entries[key]))
		}
	}
	return out
}

func summarize(e Entry) TemplateSummary {
	comps := []string{}
	if plan, err := CompileTemplate(e.Template); err == nil && plan.Components != nil {
		comps = plan.Components
	}
	t := e.Template
	return TemplateSummary{
		Name:         t.Name,
		Title:        t.Title,
		Version:      t.Version,
		TemplateType: t.TemplateType,
		Category:     t.Category,
		Key:          e.Key,
		Components:   comps,
		ContentHash:  e.ContentHash,
		SourcePath:   e.SourcePath,
	}
}

func (r *Registry) Len() int {
	return len(r.current.Load().entries)
}

// MakeKey is name, or name@version when a version is set.
func MakeKey(name, version string) string {
	name, version = strings.TrimSpace(name), strings.TrimSpace(version)
	if version == "" {
		return name
	}
	return name + "@" + version
}

func cloneDefinition(tpl *Definition) *Definition {
	if tpl == nil {
		return nil
	}
	c := *tpl
	if tpl.Metadata != nil {
		c.Metadata = maps.Clone(tpl.Metadata)
	}
	return &c
}
