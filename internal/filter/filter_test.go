package filter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/polyseer/polyseer/internal/domain"
)

// fakeEmbedder maps known texts to fixed vectors so similarity ordering is
// deterministic.
type fakeEmbedder struct {
	vectors map[string][]float64
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, ok := f.vectors[t]
		if !ok {
			v = []float64{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}

func testFilter(t *testing.T, emb Embedder) *EmbeddingFilter {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEmbeddingFilter(emb, t.TempDir(), logger)
}

func TestFilterEventsRanksBySimilarity(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"Election night": {1, 0, 0},
		"Sports final":   {0, 1, 0},
		"Weather watch":  {0.9, 0.1, 0},
		"politics":       {1, 0, 0},
	}}
	f := testFilter(t, emb)

	events := []domain.Event{
		{ID: 1, Title: "Election night"},
		{ID: 2, Title: "Sports final"},
		{ID: 3, Title: "Weather watch"},
	}

	top, err := f.FilterEvents(context.Background(), events, "politics", 2)
	if err != nil {
		t.Fatalf("FilterEvents: %v", err)
	}

	if len(top) != 2 {
		t.Fatalf("got %d events, want 2", len(top))
	}
	if top[0].ID != 1 || top[1].ID != 3 {
		t.Fatalf("wrong ranking: %d, %d", top[0].ID, top[1].ID)
	}
}

func TestFilterEventsEmptyInput(t *testing.T) {
	f := testFilter(t, &fakeEmbedder{})
	_, err := f.FilterEvents(context.Background(), nil, "anything", 5)
	if !errors.Is(err, domain.ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection, got %v", err)
	}
}

func TestFilterMarkets(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"Will A win?": {1, 0, 0},
		"Will B win?": {0, 1, 0},
		"query":       {0, 1, 0},
	}}
	f := testFilter(t, emb)

	markets := []domain.Market{
		{ID: 10, Question: "Will A win?"},
		{ID: 20, Question: "Will B win?"},
	}

	top, err := f.FilterMarkets(context.Background(), markets, "query", 1)
	if err != nil {
		t.Fatalf("FilterMarkets: %v", err)
	}
	if len(top) != 1 || top[0].ID != 20 {
		t.Fatalf("wrong market selected: %+v", top)
	}
}

func TestIndexIsWrittenAndReset(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float64{"q": {1, 0, 0}}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := filepath.Join(t.TempDir(), "local_db_events")
	f := NewEmbeddingFilter(emb, dir, logger)

	events := []domain.Event{{ID: 1, Title: "Something"}}
	if _, err := f.FilterEvents(context.Background(), events, "q", 1); err != nil {
		t.Fatalf("FilterEvents: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "events.json")); err != nil {
		t.Fatalf("index file not written: %v", err)
	}

	if err := f.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("index dir survives Reset")
	}

	// Reset on a missing dir is fine.
	if err := f.Reset(); err != nil {
		t.Fatalf("second Reset: %v", err)
	}
}

func TestZeroVectorsAreSkipped(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"good": {1, 0, 0},
		"zero": {0, 0, 0},
		"q":    {1, 0, 0},
	}}
	f := testFilter(t, emb)

	events := []domain.Event{
		{ID: 1, Title: "good"},
		{ID: 2, Title: "zero"},
	}
	top, err := f.FilterEvents(context.Background(), events, "q", 5)
	if err != nil {
		t.Fatalf("FilterEvents: %v", err)
	}
	if len(top) != 1 || top[0].ID != 1 {
		t.Fatalf("zero vector not skipped: %+v", top)
	}
}
