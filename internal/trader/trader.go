// Package trader runs the single-shot trade pipeline: discover the catalog,
// narrow it to one market, ask the forecasting oracle for a position, and
// execute that position on the exchange.
package trader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	s3blob "github.com/polyseer/polyseer/internal/blob/s3"
	"github.com/polyseer/polyseer/internal/domain"
	"github.com/polyseer/polyseer/internal/notify"
)

// Catalog provides event and market discovery. The gamma client satisfies
// it.
type Catalog interface {
	GetAllTradeableEvents(ctx context.Context) ([]domain.Event, error)
	GetMarkets(ctx context.Context, ids []int64) ([]domain.Market, error)
}

// Relevance ranks catalog records against the trader's interest prompt. The
// embedding filter satisfies it.
type Relevance interface {
	FilterEvents(ctx context.Context, events []domain.Event, query string, k int) ([]domain.Event, error)
	FilterMarkets(ctx context.Context, markets []domain.Market, query string, k int) ([]domain.Market, error)
	Reset() error
}

// Oracle is the black-box forecasting model.
type Oracle interface {
	Forecast(ctx context.Context, question, description, outcome string) (string, error)
	RecommendTrade(ctx context.Context, prediction string, outcomes []string, outcomePrices []float64) (string, error)
}

// Exchange executes the selected position. The signed order comes back with
// the receipt so its nonce and signature can be persisted.
type Exchange interface {
	ExecuteMarketOrder(ctx context.Context, market domain.Market, intent domain.TradeIntent) (domain.SignedOrder, domain.OrderReceipt, error)
}

// Archiver persists run transcripts to object storage. May be nil.
type Archiver interface {
	ArchiveRun(ctx context.Context, t s3blob.Transcript) error
}

// Config holds the pipeline's tunables.
type Config struct {
	// Query is the interest prompt candidates are ranked against.
	Query string
	// EventTopK and MarketTopK bound each ranking stage.
	EventTopK  int
	MarketTopK int
	// PrimaryOutcomeIndex selects the outcome whose token is traded and
	// whose label is forecast. The historical default is 1.
	PrimaryOutcomeIndex int
	// MaxAttempts bounds the retry loop; RetryBackoff separates attempts.
	MaxAttempts  int
	RetryBackoff time.Duration
	// LockTTL bounds how long a crashed run can hold the run lock.
	LockTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.EventTopK <= 0 {
		c.EventTopK = 10
	}
	if c.MarketTopK <= 0 {
		c.MarketTopK = 5
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 10 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 15 * time.Minute
	}
	return c
}

const runLockKey = "trader:run"

// Trader wires the pipeline stages together.
type Trader struct {
	catalog  Catalog
	filter   Relevance
	oracle   Oracle
	exchange Exchange

	locks    domain.LockManager
	runs     domain.RunStore
	orders   domain.OrderStore
	audit    domain.AuditStore
	cache    domain.MarketCache
	archiver Archiver
	notifier *notify.Notifier

	cfg    Config
	logger *slog.Logger
}

// New creates a Trader. locks, runs, orders, audit, cache, archiver, and
// notifier may be nil; the corresponding side effects are skipped.
func New(
	catalog Catalog,
	filter Relevance,
	oracle Oracle,
	exchange Exchange,
	locks domain.LockManager,
	runs domain.RunStore,
	orders domain.OrderStore,
	audit domain.AuditStore,
	cache domain.MarketCache,
	archiver Archiver,
	notifier *notify.Notifier,
	cfg Config,
	logger *slog.Logger,
) *Trader {
	return &Trader{
		catalog:  catalog,
		filter:   filter,
		oracle:   oracle,
		exchange: exchange,
		locks:    locks,
		runs:     runs,
		orders:   orders,
		audit:    audit,
		cache:    cache,
		archiver: archiver,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		logger:   logger.With("component", "trader"),
	}
}

// Run executes the pipeline under the distributed run lock, retrying failed
// attempts up to MaxAttempts with a fixed backoff. A run that ends without a
// trade because the candidate set emptied is a no-trade, not an error, and
// is not retried.
func (t *Trader) Run(ctx context.Context) error {
	if t.locks != nil {
		unlock, err := t.locks.Acquire(ctx, runLockKey, t.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("trader: %w", err)
		}
		defer unlock()
	}

	var lastErr error
	for attempt := 1; attempt <= t.cfg.MaxAttempts; attempt++ {
		report, transcript, err := t.runOnce(ctx, attempt)
		t.persistReport(ctx, report)
		t.archiveTranscript(ctx, report, transcript)

		switch report.Outcome {
		case domain.RunOutcomeTraded:
			t.notify(ctx, notify.EventTradeExecuted, "Trade executed",
				fmt.Sprintf("run %s: %s %s on market %d (order %s)",
					report.RunID, report.Side, report.TokenID, report.MarketID, report.OrderID))
			return nil

		case domain.RunOutcomeNoTrade:
			t.logger.Info("run ended without a trade", "run_id", report.RunID, "reason", report.Reason)
			t.notify(ctx, notify.EventNoTrade, "No trade", report.Reason)
			return nil
		}

		lastErr = err
		t.logger.Warn("run attempt failed",
			"run_id", report.RunID,
			"attempt", attempt,
			"max_attempts", t.cfg.MaxAttempts,
			"error", err,
		)

		if attempt < t.cfg.MaxAttempts {
			select {
			case <-ctx.Done():
				return fmt.Errorf("trader: %w", ctx.Err())
			case <-time.After(t.cfg.RetryBackoff):
			}
		}
	}

	t.notify(ctx, notify.EventRunFailed, "Run failed",
		fmt.Sprintf("all %d attempts failed: %v", t.cfg.MaxAttempts, lastErr))
	return fmt.Errorf("trader: %d attempts failed: %w", t.cfg.MaxAttempts, lastErr)
}

// transcript collects the oracle exchanges of a run for archival.
type transcript struct {
	forecast   string
	tradeReply string
}

// runOnce performs one pass through the pipeline. It always returns a
// filled-in report; err is non-nil only for the error outcome.
func (t *Trader) runOnce(ctx context.Context, attempt int) (domain.RunReport, *transcript, error) {
	report := domain.RunReport{
		RunID:     uuid.New().String(),
		Attempt:   attempt,
		StartedAt: time.Now().UTC(),
	}
	tr := &transcript{}
	logger := t.logger.With("run_id", report.RunID, "attempt", attempt)

	fail := func(err error) (domain.RunReport, *transcript, error) {
		report.Outcome = domain.RunOutcomeError
		report.Reason = err.Error()
		report.FinishedAt = time.Now().UTC()
		return report, tr, err
	}
	noTrade := func(reason string) (domain.RunReport, *transcript, error) {
		report.Outcome = domain.RunOutcomeNoTrade
		report.Reason = reason
		report.FinishedAt = time.Now().UTC()
		return report, tr, nil
	}

	// Stale rankings must not leak into this run.
	if err := t.filter.Reset(); err != nil {
		return fail(fmt.Errorf("trader: reset filter: %w", err))
	}

	events, err := t.catalog.GetAllTradeableEvents(ctx)
	if err != nil {
		return fail(fmt.Errorf("trader: fetch events: %w", err))
	}
	report.EventsFound = len(events)
	t.auditLog(ctx, "events_fetched", map[string]any{"run_id": report.RunID, "count": len(events)})

	selected, err := t.filter.FilterEvents(ctx, events, t.cfg.Query, t.cfg.EventTopK)
	if err != nil {
		if errors.Is(err, domain.ErrEmptySelection) {
			return noTrade("no events matched the interest prompt")
		}
		return fail(fmt.Errorf("trader: rank events: %w", err))
	}
	report.EventsSelected = len(selected)
	if len(selected) == 0 {
		return noTrade("no events matched the interest prompt")
	}

	var marketIDs []int64
	for _, ev := range selected {
		marketIDs = append(marketIDs, ev.MarketIDs...)
	}
	if len(marketIDs) == 0 {
		return noTrade("selected events reference no markets")
	}

	markets, missing := t.cachedMarkets(ctx, marketIDs)
	if len(missing) > 0 {
		fetched, err := t.catalog.GetMarkets(ctx, missing)
		if err != nil {
			return fail(fmt.Errorf("trader: fetch markets: %w", err))
		}
		t.cacheMarkets(ctx, fetched)
		markets = append(markets, fetched...)
	}
	report.MarketsFound = len(markets)

	ranked, err := t.filter.FilterMarkets(ctx, markets, t.cfg.Query, t.cfg.MarketTopK)
	if err != nil {
		if errors.Is(err, domain.ErrEmptySelection) {
			return noTrade("no markets survived ranking")
		}
		return fail(fmt.Errorf("trader: rank markets: %w", err))
	}
	report.MarketsRanked = len(ranked)
	if len(ranked) == 0 {
		return noTrade("no markets survived ranking")
	}

	market := ranked[0]
	report.MarketID = market.ID
	logger.Info("selected market", "market_id", market.ID, "question", market.Question)

	outcomeIdx := t.cfg.PrimaryOutcomeIndex
	if outcomeIdx >= len(market.Outcomes) {
		return fail(fmt.Errorf("trader: market %d has no outcome index %d", market.ID, outcomeIdx))
	}
	outcome := market.Outcomes[outcomeIdx]
	tokenID, err := market.TokenAt(outcomeIdx)
	if err != nil {
		return fail(fmt.Errorf("trader: %w", err))
	}
	report.TokenID = tokenID

	forecast, err := t.oracle.Forecast(ctx, market.Question, market.Description, outcome)
	if err != nil {
		return fail(fmt.Errorf("trader: forecast: %w", err))
	}
	tr.forecast = forecast
	t.auditLog(ctx, "forecast_received", map[string]any{"run_id": report.RunID, "market_id": market.ID})

	reply, err := t.oracle.RecommendTrade(ctx, forecast, market.Outcomes, market.OutcomePrices)
	if err != nil {
		return fail(fmt.Errorf("trader: recommend trade: %w", err))
	}
	tr.tradeReply = reply

	intent, err := domain.ParseTradeIntent(reply, tokenID)
	if err != nil {
		// A reply outside the grammar means the model declined to trade.
		if errors.Is(err, domain.ErrUnparsableForecast) {
			logger.Info("trade reply outside the grammar", "reply", reply)
			return noTrade("forecast reply did not contain a parsable trade")
		}
		return fail(fmt.Errorf("trader: parse trade reply: %w", err))
	}
	report.Side = intent.Side
	report.Amount = intent.Size

	order, receipt, err := t.exchange.ExecuteMarketOrder(ctx, market, intent)
	if err != nil {
		return fail(fmt.Errorf("trader: execute order: %w", err))
	}
	report.OrderID = receipt.OrderID

	t.persistOrder(ctx, report, market, intent, order, receipt)
	t.auditLog(ctx, "order_submitted", map[string]any{
		"run_id":   report.RunID,
		"order_id": receipt.OrderID,
		"market":   market.ID,
		"side":     string(intent.Side),
		"price":    intent.Price,
		"size":     intent.Size,
	})

	logger.Info("trade executed",
		"order_id", receipt.OrderID,
		"status", receipt.Status,
		"side", intent.Side,
		"price", intent.Price,
	)

	report.Outcome = domain.RunOutcomeTraded
	report.FinishedAt = time.Now().UTC()
	return report, tr, nil
}

// --------------------------------------------------------------------------
// Side effects, all best-effort
// --------------------------------------------------------------------------

// cachedMarkets splits the wanted IDs into cache hits and the IDs that still
// need a catalog fetch.
func (t *Trader) cachedMarkets(ctx context.Context, ids []int64) ([]domain.Market, []int64) {
	if t.cache == nil {
		return nil, ids
	}
	var hits []domain.Market
	var missing []int64
	for _, id := range ids {
		m, err := t.cache.Get(ctx, id)
		if err != nil {
			missing = append(missing, id)
			continue
		}
		hits = append(hits, m)
	}
	return hits, missing
}

func (t *Trader) cacheMarkets(ctx context.Context, markets []domain.Market) {
	if t.cache == nil {
		return
	}
	for _, m := range markets {
		if err := t.cache.Set(ctx, m); err != nil {
			t.logger.Warn("market cache write failed", "market_id", m.ID, "error", err)
		}
	}
}

func (t *Trader) persistReport(ctx context.Context, report domain.RunReport) {
	if t.runs == nil {
		return
	}
	if err := t.runs.Create(ctx, report); err != nil {
		t.logger.Error("persist run report failed", "run_id", report.RunID, "error", err)
	}
}

func (t *Trader) persistOrder(ctx context.Context, report domain.RunReport, market domain.Market, intent domain.TradeIntent, order domain.SignedOrder, receipt domain.OrderReceipt) {
	if t.orders == nil {
		return
	}
	record := domain.OrderRecord{
		ID:          uuid.New().String(),
		RunID:       report.RunID,
		MarketID:    market.ID,
		TokenID:     intent.TokenID,
		Side:        intent.Side,
		Price:       intent.Price,
		Amount:      intent.Size,
		Nonce:       order.Nonce,
		ExchangeID:  receipt.OrderID,
		Status:      receipt.Status,
		Signature:   order.Signature,
		SubmittedAt: receipt.SubmittedAt,
	}
	if err := t.orders.Create(ctx, record); err != nil {
		t.logger.Error("persist order failed", "order_id", record.ID, "error", err)
	}
}

func (t *Trader) archiveTranscript(ctx context.Context, report domain.RunReport, tr *transcript) {
	if t.archiver == nil || tr == nil {
		return
	}
	err := t.archiver.ArchiveRun(ctx, s3blob.Transcript{
		Report:     report,
		Forecast:   tr.forecast,
		TradeReply: tr.tradeReply,
	})
	if err != nil {
		t.logger.Warn("archive transcript failed", "run_id", report.RunID, "error", err)
	}
}

func (t *Trader) auditLog(ctx context.Context, event string, detail map[string]any) {
	if t.audit == nil {
		return
	}
	if err := t.audit.Log(ctx, event, detail); err != nil {
		t.logger.Warn("audit log failed", "event", event, "error", err)
	}
}

func (t *Trader) notify(ctx context.Context, event, title, message string) {
	if t.notifier == nil {
		return
	}
	if err := t.notifier.Notify(ctx, event, title, message); err != nil {
		t.logger.Warn("notification failed", "event", event, "error", err)
	}
}
