package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/polyseer/polyseer/internal/domain"
)

// Embedder turns texts into embedding vectors. The oracle client satisfies
// it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// EmbeddingFilter ranks catalog records by semantic similarity to a query
// prompt. Each run builds a fresh index on disk; the index is disposable and
// Reset removes it entirely, so rankings never leak across runs.
type EmbeddingFilter struct {
	embedder Embedder
	dir      string
	logger   *slog.Logger
}

// NewEmbeddingFilter creates a filter whose index lives under dir, e.g.
// "./local_db_events".
func NewEmbeddingFilter(embedder Embedder, dir string, logger *slog.Logger) *EmbeddingFilter {
	return &EmbeddingFilter{
		embedder: embedder,
		dir:      dir,
		logger:   logger.With("component", "filter"),
	}
}

// indexEntry is one embedded document in the on-disk index.
type indexEntry struct {
	ID     int64     `json:"id"`
	Text   string    `json:"text"`
	Vector []float64 `json:"vector"`
}

type indexFile struct {
	BuiltAt time.Time    `json:"built_at"`
	Entries []indexEntry `json:"entries"`
}

// FilterEvents embeds the events and the query, ranks by cosine similarity,
// and returns the top k events. An empty input or an empty ranking maps to
// ErrEmptySelection.
func (f *EmbeddingFilter) FilterEvents(ctx context.Context, events []domain.Event, query string, k int) ([]domain.Event, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("filter: %w: no events to rank", domain.ErrEmptySelection)
	}

	docs := make([]document, len(events))
	for i, ev := range events {
		docs[i] = document{ID: ev.ID, Text: eventText(ev)}
	}

	ranked, err := f.rank(ctx, "events", docs, query, k)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]domain.Event, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
	}

	out := make([]domain.Event, 0, len(ranked))
	for _, id := range ranked {
		out = append(out, byID[id])
	}
	return out, nil
}

// FilterMarkets is FilterEvents for markets.
func (f *EmbeddingFilter) FilterMarkets(ctx context.Context, markets []domain.Market, query string, k int) ([]domain.Market, error) {
	if len(markets) == 0 {
		return nil, fmt.Errorf("filter: %w: no markets to rank", domain.ErrEmptySelection)
	}

	docs := make([]document, len(markets))
	for i, m := range markets {
		docs[i] = document{ID: m.ID, Text: marketText(m)}
	}

	ranked, err := f.rank(ctx, "markets", docs, query, k)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]domain.Market, len(markets))
	for _, m := range markets {
		byID[m.ID] = m
	}

	out := make([]domain.Market, 0, len(ranked))
	for _, id := range ranked {
		out = append(out, byID[id])
	}
	return out, nil
}

// Reset removes the on-disk index. It is safe to call when no index exists.
func (f *EmbeddingFilter) Reset() error {
	if err := os.RemoveAll(f.dir); err != nil {
		return fmt.Errorf("filter: reset index %s: %w", f.dir, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

type document struct {
	ID   int64
	Text string
}

// rank builds a fresh index for the documents, embeds the query, and returns
// the IDs of the top k documents by cosine similarity.
func (f *EmbeddingFilter) rank(ctx context.Context, name string, docs []document, query string, k int) ([]int64, error) {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}

	vectors, err := f.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("filter: embed %s: %w", name, err)
	}

	entries := make([]indexEntry, len(docs))
	for i, d := range docs {
		entries[i] = indexEntry{ID: d.ID, Text: d.Text, Vector: vectors[i]}
	}
	if err := f.writeIndex(name, entries); err != nil {
		return nil, err
	}

	queryVecs, err := f.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("filter: embed query: %w", err)
	}
	queryVec := queryVecs[0]

	type scored struct {
		id    int64
		score float64
	}
	scores := make([]scored, 0, len(entries))
	for _, e := range entries {
		s := cosineSimilarity(queryVec, e.Vector)
		if math.IsNaN(s) {
			continue
		}
		scores = append(scores, scored{id: e.ID, score: s})
	}

	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	if k > 0 && len(scores) > k {
		scores = scores[:k]
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("filter: %w: ranking produced no candidates", domain.ErrEmptySelection)
	}

	ids := make([]int64, len(scores))
	for i, s := range scores {
		ids[i] = s.id
	}

	f.logger.Debug("ranked candidates", "kind", name, "input", len(docs), "selected", len(ids))
	return ids, nil
}

// writeIndex persists the embedded documents. The index exists for
// inspection and debugging; ranking reads the in-memory copy.
func (f *EmbeddingFilter) writeIndex(name string, entries []indexEntry) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("filter: create index dir %s: %w", f.dir, err)
	}

	data, err := json.Marshal(indexFile{BuiltAt: time.Now().UTC(), Entries: entries})
	if err != nil {
		return fmt.Errorf("filter: marshal index: %w", err)
	}

	path := filepath.Join(f.dir, name+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("filter: write index %s: %w", path, err)
	}
	return nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.NaN()
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return math.NaN()
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func eventText(ev domain.Event) string {
	if ev.Description == "" {
		return ev.Title
	}
	return ev.Title + "\n" + ev.Description
}

func marketText(m domain.Market) string {
	if m.Description == "" {
		return m.Question
	}
	return m.Question + "\n" + m.Description
}
