// Package workflowstore serves previously defined workflows from Postgres as
// detection suggestions.
package workflowstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/PadsterH2012/archon-plus-sub002/internal/detection"
	"github.com/PadsterH2012/archon-plus-sub002/internal/textsim"
	"github.com/PadsterH2012/archon-plus-sub002/internal/tracing"
)

// Schema creates the workflows table when it does not exist.
const Schema = `
CREATE TABLE IF NOT EXISTS workflows (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    title       TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    category    TEXT NOT NULL DEFAULT '',
    tags        TEXT[] NOT NULL DEFAULT '{}',
    project_id  TEXT,
    status      TEXT NOT NULL DEFAULT 'active',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_workflows_project ON workflows (project_id);
`

const selectActive = `
SELECT id, name, title, description, category, tags, project_id, status, updated_at
FROM workflows
WHERE status = 'active' AND ($1::text = '' OR project_id IS NULL OR project_id = $1::text)
ORDER BY updated_at DESC
LIMIT $2`

const upsertWorkflow = `
INSERT INTO workflows (id, name, title, description, category, tags, project_id, status, updated_at)
VALUES (:id, :name, :title, :description, :category, :tags, :project_id, :status, NOW())
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    title = EXCLUDED.title,
    description = EXCLUDED.description,
    category = EXCLUDED.category,
    tags = EXCLUDED.tags,
    project_id = EXCLUDED.project_id,
    status = EXCLUDED.status,
    updated_at = NOW()`

// Workflow is a row of the workflows table.
type Workflow struct {
	ID          string         `db:"id"`
	Name        string         `db:"name"`
	Title       string         `db:"title"`
	Description string         `db:"description"`
	Category    string         `db:"category"`
	Tags        pq.StringArray `db:"tags"`
	ProjectID   sql.NullString `db:"project_id"`
	Status      string         `db:"status"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// Querier is the subset of the circuit breaker database wrapper the store uses.
type Querier interface {
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

// Options tunes scoring.
type Options struct {
	// ScanLimit caps the rows considered per lookup.
	ScanLimit int `mapstructure:"scan_limit"`
	// MaxSuggestions caps the suggestions returned.
	MaxSuggestions int `mapstructure:"max_suggestions"`
	// MinSimilarity is the Jaccard floor for a workflow without matching tags.
	MinSimilarity float64 `mapstructure:"min_similarity"`
	// TagBoost is added to confidence per matched tag.
	TagBoost float64 `mapstructure:"tag_boost"`
}

// DefaultOptions returns the scoring defaults.
func DefaultOptions() Options {
	return Options{
		ScanLimit:      200,
		MaxSuggestions: 5,
		MinSimilarity:  0.05,
		TagBoost:       0.2,
	}
}

// Store implements detection.ExistingWorkflowSource.
type Store struct {
	db     Querier
	opts   Options
	logger *zap.Logger
}

// New creates a store over q. Zero option fields take their defaults.
func New(q Querier, opts Options, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.ScanLimit <= 0 {
		opts.ScanLimit = def.ScanLimit
	}
	if opts.MaxSuggestions <= 0 {
		opts.MaxSuggestions = def.MaxSuggestions
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = def.MinSimilarity
	}
	if opts.TagBoost <= 0 {
		opts.TagBoost = def.TagBoost
	}
	return &Store{db: q, opts: opts, logger: logger}
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate workflows table: %w", err)
	}
	return nil
}

// Save inserts or updates a workflow.
func (s *Store) Save(ctx context.Context, wf Workflow) error {
	if wf.ID == "" || wf.Name == "" {
		return fmt.Errorf("workflow id and name are required")
	}
	if wf.Status == "" {
		wf.Status = "active"
	}
	if wf.Tags == nil {
		wf.Tags = pq.StringArray{}
	}
	if _, err := s.db.NamedExecContext(ctx, upsertWorkflow, wf); err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", wf.ID, err)
	}
	return nil
}

// List returns active workflows visible to projectID, most recently updated
// first. An empty projectID lists every active workflow.
func (s *Store) List(ctx context.Context, projectID string) ([]Workflow, error) {
	var rows []Workflow
	if err := s.db.SelectContext(ctx, &rows, selectActive, projectID, s.opts.ScanLimit); err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	return rows, nil
}

// ExistingWorkflowSuggestions scores stored workflows against the task text.
// Confidence is the Jaccard similarity of task and workflow text plus TagBoost
// per tag found in the task, capped at 1. Score is the shared token count plus
// confidence.
func (s *Store) ExistingWorkflowSuggestions(ctx context.Context, text, projectID string) ([]detection.Suggestion, error) {
	ctx, span := tracing.StartSpan(ctx, "workflowstore.suggest",
		attribute.String("project_id", projectID),
	)
	defer span.End()

	rows, err := s.List(ctx, projectID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	taskTokens := textsim.Tokenize(text)
	taskSet := textsim.TokenSet(text)

	out := make([]detection.Suggestion, 0, len(rows))
	for _, wf := range rows {
		doc := wf.Name + " " + wf.Title + " " + wf.Description + " " + strings.Join(wf.Tags, " ")
		sim := textsim.Similarity(text, doc)

		matched := make([]string, 0, len(wf.Tags))
		for _, tag := range wf.Tags {
			if textsim.ContainsPhrase(taskTokens, tag) {
				matched = append(matched, tag)
			}
		}
		if sim < s.opts.MinSimilarity && len(matched) == 0 {
			continue
		}

		confidence := sim + s.opts.TagBoost*float64(len(matched))
		if confidence > 1 {
			confidence = 1
		}
		shared := textsim.SharedTokens(taskSet, textsim.TokenSet(doc))

		title := wf.Title
		if title == "" {
			title = wf.Name
		}
		out = append(out, detection.Suggestion{
			Type:            detection.SuggestionExistingWorkflow,
			ID:              wf.ID,
			Title:           title,
			Category:        wf.Category,
			Description:     wf.Description,
			Score:           float64(shared) + confidence,
			Confidence:      confidence,
			MatchedKeywords: matched,
			Reason:          fmt.Sprintf("Similar to existing workflow %q (similarity %.2f)", wf.Name, sim),
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > s.opts.MaxSuggestions {
		out = out[:s.opts.MaxSuggestions]
	}

	s.logger.Debug("Existing workflow lookup",
		zap.String("project_id", projectID),
		zap.Int("scanned", len(rows)),
		zap.Int("suggestions", len(out)),
	)
	span.SetAttributes(attribute.Int("suggestions", len(out)))
	return out, nil
}
