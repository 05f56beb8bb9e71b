package trader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/polyseer/polyseer/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCatalog struct {
	events    []domain.Event
	eventsErr error
	markets   []domain.Market
	marketIDs [][]int64
}

func (f *fakeCatalog) GetAllTradeableEvents(context.Context) ([]domain.Event, error) {
	return f.events, f.eventsErr
}

func (f *fakeCatalog) GetMarkets(_ context.Context, ids []int64) ([]domain.Market, error) {
	f.marketIDs = append(f.marketIDs, ids)
	return f.markets, nil
}

// fakeFilter passes everything through, truncated to k.
type fakeFilter struct {
	resets int
}

func (f *fakeFilter) FilterEvents(_ context.Context, events []domain.Event, _ string, k int) ([]domain.Event, error) {
	if len(events) == 0 {
		return nil, domain.ErrEmptySelection
	}
	if k > 0 && len(events) > k {
		events = events[:k]
	}
	return events, nil
}

func (f *fakeFilter) FilterMarkets(_ context.Context, markets []domain.Market, _ string, k int) ([]domain.Market, error) {
	if len(markets) == 0 {
		return nil, domain.ErrEmptySelection
	}
	if k > 0 && len(markets) > k {
		markets = markets[:k]
	}
	return markets, nil
}

func (f *fakeFilter) Reset() error {
	f.resets++
	return nil
}

type fakeOracle struct {
	forecast    string
	tradeReply  string
	forecastErr error
}

func (f *fakeOracle) Forecast(context.Context, string, string, string) (string, error) {
	return f.forecast, f.forecastErr
}

func (f *fakeOracle) RecommendTrade(context.Context, string, []string, []float64) (string, error) {
	return f.tradeReply, nil
}

type fakeExchange struct {
	executed []domain.TradeIntent
	receipt  domain.OrderReceipt
	err      error
}

func (f *fakeExchange) ExecuteMarketOrder(_ context.Context, _ domain.Market, intent domain.TradeIntent) (domain.SignedOrder, domain.OrderReceipt, error) {
	f.executed = append(f.executed, intent)
	if f.err != nil {
		return domain.SignedOrder{}, domain.OrderReceipt{}, f.err
	}
	order := domain.SignedOrder{TokenID: intent.TokenID, Nonce: "1700000001", Signature: "0xsig"}
	return order, f.receipt, nil
}

type memRunStore struct {
	mu      sync.Mutex
	reports []domain.RunReport
}

func (s *memRunStore) Create(_ context.Context, r domain.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return nil
}

func (s *memRunStore) ListRecent(context.Context, int) ([]domain.RunReport, error) {
	return s.reports, nil
}

type memOrderStore struct {
	records []domain.OrderRecord
}

func (s *memOrderStore) Create(_ context.Context, r domain.OrderRecord) error {
	s.records = append(s.records, r)
	return nil
}

func (s *memOrderStore) UpdateStatus(context.Context, string, string) error { return nil }

func (s *memOrderStore) ListByRun(context.Context, string) ([]domain.OrderRecord, error) {
	return s.records, nil
}

// memMarketCache serves pre-seeded markets and records lookups.
type memMarketCache struct {
	markets map[int64]domain.Market
	sets    []int64
}

func (c *memMarketCache) Set(_ context.Context, m domain.Market) error {
	if c.markets == nil {
		c.markets = map[int64]domain.Market{}
	}
	c.markets[m.ID] = m
	c.sets = append(c.sets, m.ID)
	return nil
}

func (c *memMarketCache) Get(_ context.Context, id int64) (domain.Market, error) {
	m, ok := c.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

type fakeLock struct {
	held     bool
	acquires int
	releases int
}

func (l *fakeLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.acquires++
	return func() { l.releases++ }, nil
}

func tradeableMarket() domain.Market {
	return domain.Market{
		ID:            42,
		Question:      "Will it happen?",
		Outcomes:      []string{"Yes", "No"},
		OutcomePrices: []float64{0.6, 0.4},
		ClobTokenIDs:  []string{"tok-yes", "tok-no"},
	}
}

func newTestTrader(catalog Catalog, filter Relevance, oracle Oracle, exchange Exchange, locks domain.LockManager, runs domain.RunStore) *Trader {
	cfg := Config{
		Query:               "politics",
		PrimaryOutcomeIndex: 1,
		MaxAttempts:         3,
		RetryBackoff:        time.Millisecond,
	}
	return New(catalog, filter, oracle, exchange, locks, runs, nil, nil, nil, nil, nil, cfg, testLogger())
}

func TestRunTradesHappyPath(t *testing.T) {
	catalog := &fakeCatalog{
		events:  []domain.Event{{ID: 1, Title: "E", Active: true, MarketIDs: []int64{42}}},
		markets: []domain.Market{tradeableMarket()},
	}
	filter := &fakeFilter{}
	oracle := &fakeOracle{
		forecast:   "I believe it has a likelihood 0.4 for outcome of No.",
		tradeReply: "price:0.4, size:0.1, side:BUY",
	}
	exchange := &fakeExchange{receipt: domain.OrderReceipt{Success: true, OrderID: "ord-1", Status: "matched"}}
	runs := &memRunStore{}
	lock := &fakeLock{}

	tr := newTestTrader(catalog, filter, oracle, exchange, lock, runs)
	if err := tr.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(exchange.executed) != 1 {
		t.Fatalf("executed %d orders, want 1", len(exchange.executed))
	}
	intent := exchange.executed[0]
	if intent.TokenID != "tok-no" {
		t.Fatalf("intent bound to %q, want the second outcome token", intent.TokenID)
	}
	if intent.Price != 0.4 || intent.Size != 0.1 || intent.Side != domain.OrderSideBuy {
		t.Fatalf("unexpected intent: %+v", intent)
	}

	if len(runs.reports) != 1 {
		t.Fatalf("persisted %d reports, want 1", len(runs.reports))
	}
	report := runs.reports[0]
	if report.Outcome != domain.RunOutcomeTraded || report.OrderID != "ord-1" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.EventsFound != 1 || report.MarketsFound != 1 || report.MarketsRanked != 1 {
		t.Fatalf("stage counts wrong: %+v", report)
	}

	if filter.resets != 1 {
		t.Fatalf("filter reset %d times, want 1", filter.resets)
	}
	if lock.acquires != 1 || lock.releases != 1 {
		t.Fatalf("lock acquires=%d releases=%d", lock.acquires, lock.releases)
	}
}

func TestRunEmptyCatalogIsNoTrade(t *testing.T) {
	catalog := &fakeCatalog{events: nil}
	exchange := &fakeExchange{}
	runs := &memRunStore{}

	tr := newTestTrader(catalog, &fakeFilter{}, &fakeOracle{}, exchange, nil, runs)
	if err := tr.Run(context.Background()); err != nil {
		t.Fatalf("no-trade run should not error: %v", err)
	}

	if len(exchange.executed) != 0 {
		t.Fatal("order executed despite empty catalog")
	}
	if len(runs.reports) != 1 || runs.reports[0].Outcome != domain.RunOutcomeNoTrade {
		t.Fatalf("expected one no_trade report, got %+v", runs.reports)
	}
}

func TestRunEventsWithoutMarketsIsNoTrade(t *testing.T) {
	catalog := &fakeCatalog{
		events: []domain.Event{{ID: 1, Title: "E", Active: true}},
	}
	runs := &memRunStore{}

	tr := newTestTrader(catalog, &fakeFilter{}, &fakeOracle{}, &fakeExchange{}, nil, runs)
	if err := tr.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if runs.reports[0].Outcome != domain.RunOutcomeNoTrade {
		t.Fatalf("outcome = %s, want no_trade", runs.reports[0].Outcome)
	}
}

func TestRunUnparsableForecastIsNoTrade(t *testing.T) {
	catalog := &fakeCatalog{
		events:  []domain.Event{{ID: 1, Title: "E", Active: true, MarketIDs: []int64{42}}},
		markets: []domain.Market{tradeableMarket()},
	}
	oracle := &fakeOracle{
		forecast:   "something",
		tradeReply: "I cannot decide",
	}
	exchange := &fakeExchange{}
	runs := &memRunStore{}

	tr := newTestTrader(catalog, &fakeFilter{}, oracle, exchange, nil, runs)
	if err := tr.Run(context.Background()); err != nil {
		t.Fatalf("unparsable reply should end the run cleanly, got %v", err)
	}

	if len(exchange.executed) != 0 {
		t.Fatal("order executed despite unparsable reply")
	}
	// A single pass: the model declining to trade is terminal, not retried.
	if len(runs.reports) != 1 {
		t.Fatalf("persisted %d reports, want 1", len(runs.reports))
	}
	if runs.reports[0].Outcome != domain.RunOutcomeNoTrade {
		t.Fatalf("outcome = %s, want no_trade", runs.reports[0].Outcome)
	}
}

// emptyFilter mimics a ranking collaborator that returns no candidates and no
// error.
type emptyFilter struct{}

func (emptyFilter) FilterEvents(_ context.Context, events []domain.Event, _ string, _ int) ([]domain.Event, error) {
	return events, nil
}

func (emptyFilter) FilterMarkets(context.Context, []domain.Market, string, int) ([]domain.Market, error) {
	return nil, nil
}

func (emptyFilter) Reset() error { return nil }

func TestRunEmptyRankingIsNoTrade(t *testing.T) {
	catalog := &fakeCatalog{
		events:  []domain.Event{{ID: 1, Title: "E", Active: true, MarketIDs: []int64{42}}},
		markets: []domain.Market{tradeableMarket()},
	}
	exchange := &fakeExchange{}
	runs := &memRunStore{}

	tr := newTestTrader(catalog, emptyFilter{}, &fakeOracle{}, exchange, nil, runs)
	if err := tr.Run(context.Background()); err != nil {
		t.Fatalf("empty ranking should end the run cleanly, got %v", err)
	}

	if len(exchange.executed) != 0 {
		t.Fatal("order executed despite empty ranking")
	}
	if len(runs.reports) != 1 || runs.reports[0].Outcome != domain.RunOutcomeNoTrade {
		t.Fatalf("expected one no_trade report, got %+v", runs.reports)
	}
}

func TestRunReadsMarketsThroughCache(t *testing.T) {
	cached := tradeableMarket()
	other := domain.Market{
		ID:            43,
		Question:      "Other?",
		Outcomes:      []string{"Yes", "No"},
		OutcomePrices: []float64{0.5, 0.5},
		ClobTokenIDs:  []string{"tok-a", "tok-b"},
	}
	catalog := &fakeCatalog{
		events:  []domain.Event{{ID: 1, Title: "E", Active: true, MarketIDs: []int64{42, 43}}},
		markets: []domain.Market{other},
	}
	cache := &memMarketCache{markets: map[int64]domain.Market{42: cached}}
	oracle := &fakeOracle{forecast: "f", tradeReply: "price:0.4, size:0.1, side:BUY"}
	exchange := &fakeExchange{receipt: domain.OrderReceipt{Success: true, OrderID: "ord-1"}}
	runs := &memRunStore{}

	cfg := Config{Query: "politics", PrimaryOutcomeIndex: 1, MaxAttempts: 1, RetryBackoff: time.Millisecond}
	tr := New(catalog, &fakeFilter{}, oracle, exchange, nil, runs, nil, nil, cache, nil, nil, cfg, testLogger())
	if err := tr.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Only the cache miss reaches the catalog.
	if len(catalog.marketIDs) != 1 {
		t.Fatalf("catalog consulted %d times, want 1", len(catalog.marketIDs))
	}
	if ids := catalog.marketIDs[0]; len(ids) != 1 || ids[0] != 43 {
		t.Fatalf("catalog asked for %v, want [43]", ids)
	}
	// The fetched market is written back for the next run.
	if len(cache.sets) != 1 || cache.sets[0] != 43 {
		t.Fatalf("cache writes = %v, want [43]", cache.sets)
	}
	if runs.reports[0].MarketsFound != 2 {
		t.Fatalf("markets found = %d, want 2", runs.reports[0].MarketsFound)
	}
}

func TestRunPersistsSignedOrderDetails(t *testing.T) {
	catalog := &fakeCatalog{
		events:  []domain.Event{{ID: 1, Title: "E", Active: true, MarketIDs: []int64{42}}},
		markets: []domain.Market{tradeableMarket()},
	}
	oracle := &fakeOracle{forecast: "f", tradeReply: "price:0.4, size:0.1, side:BUY"}
	exchange := &fakeExchange{receipt: domain.OrderReceipt{Success: true, OrderID: "ord-1", Status: "matched"}}
	orders := &memOrderStore{}

	cfg := Config{Query: "politics", PrimaryOutcomeIndex: 1, MaxAttempts: 1, RetryBackoff: time.Millisecond}
	tr := New(catalog, &fakeFilter{}, oracle, exchange, nil, nil, orders, nil, nil, nil, nil, cfg, testLogger())
	if err := tr.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(orders.records) != 1 {
		t.Fatalf("persisted %d orders, want 1", len(orders.records))
	}
	record := orders.records[0]
	if record.Nonce != "1700000001" || record.Signature != "0xsig" {
		t.Fatalf("signed order details not persisted: %+v", record)
	}
	if record.ExchangeID != "ord-1" || record.TokenID != "tok-no" {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestRunCatalogDownRetries(t *testing.T) {
	catalog := &fakeCatalog{eventsErr: fmt.Errorf("gamma: %w", domain.ErrCatalogUnavailable)}
	runs := &memRunStore{}

	tr := newTestTrader(catalog, &fakeFilter{}, &fakeOracle{}, &fakeExchange{}, nil, runs)
	err := tr.Run(context.Background())
	if !errors.Is(err, domain.ErrCatalogUnavailable) {
		t.Fatalf("expected ErrCatalogUnavailable, got %v", err)
	}
	if len(runs.reports) != 3 {
		t.Fatalf("persisted %d reports, want 3 attempts", len(runs.reports))
	}
}

func TestRunRejectedOrderSurfacesError(t *testing.T) {
	catalog := &fakeCatalog{
		events:  []domain.Event{{ID: 1, Title: "E", Active: true, MarketIDs: []int64{42}}},
		markets: []domain.Market{tradeableMarket()},
	}
	oracle := &fakeOracle{forecast: "f", tradeReply: "price:0.4, size:0.1, side:BUY"}
	exchange := &fakeExchange{err: fmt.Errorf("exchange: %w", domain.ErrOrderRejected)}
	runs := &memRunStore{}

	tr := newTestTrader(catalog, &fakeFilter{}, oracle, exchange, nil, runs)
	err := tr.Run(context.Background())
	if !errors.Is(err, domain.ErrOrderRejected) {
		t.Fatalf("expected ErrOrderRejected, got %v", err)
	}
}

func TestRunLockHeld(t *testing.T) {
	lock := &fakeLock{held: true}
	tr := newTestTrader(&fakeCatalog{}, &fakeFilter{}, &fakeOracle{}, &fakeExchange{}, lock, nil)

	err := tr.Run(context.Background())
	if !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
}
