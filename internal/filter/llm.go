package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/polyseer/polyseer/internal/domain"
)

// CandidateFilter asks a language model to narrow a serialized candidate
// list. The oracle client satisfies it.
type CandidateFilter interface {
	FilterCandidates(ctx context.Context, kind, payload string) (string, error)
}

// LLMFilter ranks catalog records by asking the forecasting model directly
// which candidates it would trade. The reply is free text; a candidate
// survives when its numeric ID appears anywhere in the reply. Survivors keep
// their input order and are truncated to k.
type LLMFilter struct {
	oracle CandidateFilter
	logger *slog.Logger
}

// NewLLMFilter creates a filter backed by the given candidate model.
func NewLLMFilter(oracle CandidateFilter, logger *slog.Logger) *LLMFilter {
	return &LLMFilter{
		oracle: oracle,
		logger: logger.With("component", "filter"),
	}
}

type llmCandidate struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// FilterEvents serializes the events, asks the model to narrow them, and
// returns the events the reply names. An empty selection maps to
// ErrEmptySelection.
func (f *LLMFilter) FilterEvents(ctx context.Context, events []domain.Event, query string, k int) ([]domain.Event, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("filter: %w: no events to rank", domain.ErrEmptySelection)
	}

	cands := make([]llmCandidate, len(events))
	for i, ev := range events {
		cands[i] = llmCandidate{ID: ev.ID, Text: eventText(ev)}
	}

	keep, err := f.ask(ctx, "events about "+query, cands)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Event, 0, len(events))
	for _, ev := range events {
		if keep[ev.ID] {
			out = append(out, ev)
		}
	}
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("filter: %w: model kept no events", domain.ErrEmptySelection)
	}
	return out, nil
}

// FilterMarkets is FilterEvents for markets.
func (f *LLMFilter) FilterMarkets(ctx context.Context, markets []domain.Market, query string, k int) ([]domain.Market, error) {
	if len(markets) == 0 {
		return nil, fmt.Errorf("filter: %w: no markets to rank", domain.ErrEmptySelection)
	}

	cands := make([]llmCandidate, len(markets))
	for i, m := range markets {
		cands[i] = llmCandidate{ID: m.ID, Text: marketText(m)}
	}

	keep, err := f.ask(ctx, "markets about "+query, cands)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Market, 0, len(markets))
	for _, m := range markets {
		if keep[m.ID] {
			out = append(out, m)
		}
	}
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("filter: %w: model kept no markets", domain.ErrEmptySelection)
	}
	return out, nil
}

// Reset is a no-op; the model keeps no state between runs.
func (f *LLMFilter) Reset() error { return nil }

func (f *LLMFilter) ask(ctx context.Context, kind string, cands []llmCandidate) (map[int64]bool, error) {
	payload, err := json.Marshal(cands)
	if err != nil {
		return nil, fmt.Errorf("filter: marshal candidates: %w", err)
	}

	reply, err := f.oracle.FilterCandidates(ctx, kind, string(payload))
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}

	keep := repliedIDs(reply)
	f.logger.Debug("model narrowed candidates", "kind", kind, "input", len(cands), "selected", len(keep))
	return keep, nil
}

var numberRe = regexp.MustCompile(`[0-9]+`)

// repliedIDs collects every integer the reply mentions. Matching on whole
// number runs keeps ID 1 from matching inside ID 10.
func repliedIDs(reply string) map[int64]bool {
	ids := make(map[int64]bool)
	for _, m := range numberRe.FindAllString(reply, -1) {
		if n, err := strconv.ParseInt(m, 10, 64); err == nil {
			ids[n] = true
		}
	}
	return ids
}
