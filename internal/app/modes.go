package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/polyseer/polyseer/internal/domain"
	"github.com/polyseer/polyseer/internal/notify"
	"github.com/polyseer/polyseer/internal/trader"
)

// TradeMode runs one full pipeline pass: ensure on-chain approvals, derive
// CLOB credentials, then discover, forecast, and execute a single position.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	if err := deps.Exchange.EnsureApprovals(ctx); err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}
	if err := deps.Exchange.Init(ctx); err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}

	balance, err := deps.Exchange.CollateralBalance(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "collateral balance check failed", slog.String("error", err.Error()))
	} else {
		a.logger.InfoContext(ctx, "wallet funded", slog.Float64("usdc", balance))
	}

	t := trader.New(
		deps.Catalog,
		deps.Filter,
		deps.Oracle,
		deps.Exchange,
		deps.LockManager,
		deps.RunStore,
		deps.OrderStore,
		deps.AuditStore,
		deps.MarketCache,
		archiverOrNil(deps),
		deps.Notifier,
		trader.Config{
			Query:               a.cfg.Trader.Query,
			EventTopK:           a.cfg.Trader.EventTopK,
			MarketTopK:          a.cfg.Trader.MarketTopK,
			PrimaryOutcomeIndex: a.cfg.Polymarket.PrimaryOutcomeIndex,
			MaxAttempts:         a.cfg.Trader.MaxAttempts,
			RetryBackoff:        a.cfg.Trader.RetryBackoff.Duration,
			LockTTL:             a.cfg.Trader.LockTTL.Duration,
		},
		a.logger,
	)

	return t.Run(ctx)
}

// archiverOrNil avoids handing the trader a typed-nil interface value.
func archiverOrNil(deps *Dependencies) trader.Archiver {
	if deps.Archiver == nil {
		return nil
	}
	return deps.Archiver
}

// ApproveMode grants the collateral and CTF approvals and exits. Useful for
// funding a fresh wallet before the first trade run.
func (a *App) ApproveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting approve mode")

	if err := deps.Exchange.EnsureApprovals(ctx); err != nil {
		return fmt.Errorf("approve mode: %w", err)
	}

	a.logger.InfoContext(ctx, "approvals in place")
	if deps.Notifier != nil {
		if err := deps.Notifier.Notify(ctx, notify.EventApprovalsGranted,
			"Approvals granted", "collateral and CTF approvals are in place"); err != nil {
			a.logger.WarnContext(ctx, "notification failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// ScanMode runs the discovery and ranking stages without trading: fetch the
// catalog, rank events and markets against the interest prompt, and print the
// candidates. No wallet is required.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode", slog.String("query", a.cfg.Trader.Query))

	if err := deps.Filter.Reset(); err != nil {
		return fmt.Errorf("scan mode: reset filter: %w", err)
	}

	events, err := deps.Catalog.GetAllTradeableEvents(ctx)
	if err != nil {
		return fmt.Errorf("scan mode: %w", err)
	}

	selected, err := deps.Filter.FilterEvents(ctx, events, a.cfg.Trader.Query, a.cfg.Trader.EventTopK)
	if err != nil {
		if errors.Is(err, domain.ErrEmptySelection) {
			fmt.Println("no events matched the query")
			return nil
		}
		return fmt.Errorf("scan mode: rank events: %w", err)
	}

	var marketIDs []int64
	for _, ev := range selected {
		marketIDs = append(marketIDs, ev.MarketIDs...)
	}
	if len(marketIDs) == 0 {
		fmt.Println("selected events reference no markets")
		return nil
	}

	markets, err := deps.Catalog.GetMarkets(ctx, marketIDs)
	if err != nil {
		return fmt.Errorf("scan mode: %w", err)
	}

	ranked, err := deps.Filter.FilterMarkets(ctx, markets, a.cfg.Trader.Query, a.cfg.Trader.MarketTopK)
	if err != nil {
		if errors.Is(err, domain.ErrEmptySelection) {
			fmt.Println("no markets survived ranking")
			return nil
		}
		return fmt.Errorf("scan mode: rank markets: %w", err)
	}

	fmt.Printf("top %d of %d markets for %q:\n", len(ranked), len(markets), a.cfg.Trader.Query)
	for i, m := range ranked {
		fmt.Printf("%2d. [%d] %s\n", i+1, m.ID, m.Question)
		for j, outcome := range m.Outcomes {
			price := 0.0
			if j < len(m.OutcomePrices) {
				price = m.OutcomePrices[j]
			}
			fmt.Printf("      %-12s %.3f\n", outcome, price)
		}
	}
	return nil
}
