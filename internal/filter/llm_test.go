package filter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/polyseer/polyseer/internal/domain"
)

type fakeCandidateFilter struct {
	reply    string
	err      error
	payloads []string
}

func (f *fakeCandidateFilter) FilterCandidates(_ context.Context, _, payload string) (string, error) {
	f.payloads = append(f.payloads, payload)
	return f.reply, f.err
}

func llmTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLLMFilterKeepsNamedEventsInOrder(t *testing.T) {
	oracle := &fakeCandidateFilter{reply: "I would trade 30 and 10, skip the rest."}
	f := NewLLMFilter(oracle, llmTestLogger())

	events := []domain.Event{
		{ID: 10, Title: "First"},
		{ID: 20, Title: "Second"},
		{ID: 30, Title: "Third"},
	}

	out, err := f.FilterEvents(context.Background(), events, "politics", 5)
	if err != nil {
		t.Fatalf("FilterEvents: %v", err)
	}
	if len(out) != 2 || out[0].ID != 10 || out[1].ID != 30 {
		t.Fatalf("unexpected selection: %+v", out)
	}
	if len(oracle.payloads) != 1 {
		t.Fatalf("model consulted %d times, want 1", len(oracle.payloads))
	}
}

func TestLLMFilterTruncatesToK(t *testing.T) {
	oracle := &fakeCandidateFilter{reply: "keep 1, 2, 3"}
	f := NewLLMFilter(oracle, llmTestLogger())

	markets := []domain.Market{{ID: 1}, {ID: 2}, {ID: 3}}
	out, err := f.FilterMarkets(context.Background(), markets, "sports", 2)
	if err != nil {
		t.Fatalf("FilterMarkets: %v", err)
	}
	if len(out) != 2 || out[0].ID != 1 || out[1].ID != 2 {
		t.Fatalf("truncation wrong: %+v", out)
	}
}

func TestLLMFilterNoMatchesIsEmptySelection(t *testing.T) {
	oracle := &fakeCandidateFilter{reply: "none of these look tradeable"}
	f := NewLLMFilter(oracle, llmTestLogger())

	_, err := f.FilterEvents(context.Background(), []domain.Event{{ID: 7, Title: "E"}}, "q", 5)
	if !errors.Is(err, domain.ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection, got %v", err)
	}
}

func TestLLMFilterEmptyInputIsEmptySelection(t *testing.T) {
	f := NewLLMFilter(&fakeCandidateFilter{}, llmTestLogger())

	_, err := f.FilterMarkets(context.Background(), nil, "q", 5)
	if !errors.Is(err, domain.ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection, got %v", err)
	}
}

func TestLLMFilterPropagatesModelErrors(t *testing.T) {
	oracle := &fakeCandidateFilter{err: errors.New("model down")}
	f := NewLLMFilter(oracle, llmTestLogger())

	_, err := f.FilterEvents(context.Background(), []domain.Event{{ID: 1}}, "q", 5)
	if err == nil || errors.Is(err, domain.ErrEmptySelection) {
		t.Fatalf("model error not surfaced: %v", err)
	}
}

func TestLLMFilterPartialIDDoesNotMatch(t *testing.T) {
	// Reply names 10; candidate 1 must not ride along on the shared digit.
	oracle := &fakeCandidateFilter{reply: "only 10"}
	f := NewLLMFilter(oracle, llmTestLogger())

	events := []domain.Event{{ID: 1, Title: "A"}, {ID: 10, Title: "B"}}
	out, err := f.FilterEvents(context.Background(), events, "q", 5)
	if err != nil {
		t.Fatalf("FilterEvents: %v", err)
	}
	if len(out) != 1 || out[0].ID != 10 {
		t.Fatalf("partial id matched: %+v", out)
	}
}
