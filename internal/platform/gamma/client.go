package gamma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polyseer/polyseer/internal/domain"
)

const defaultPageSize = 100

// Client is the REST client for the Polymarket Gamma API, which provides
// event and market discovery for the trade pipeline.
type Client struct {
	baseURL    string
	pageSize   int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  baseURL,
		pageSize: defaultPageSize,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With("component", "gamma"),
	}
}

// GetEvents returns one page of events. Malformed records are dropped with a
// warning rather than failing the page.
func (c *Client) GetEvents(ctx context.Context, limit, offset int) ([]domain.Event, error) {
	events, _, err := c.eventsPage(ctx, limit, offset)
	return events, err
}

// eventsPage additionally reports the raw record count of the page, before
// malformed records are dropped. Pagination keys off the raw count: a dropped
// record must not make a full page look like the end of the catalog.
func (c *Client) eventsPage(ctx context.Context, limit, offset int) ([]domain.Event, int, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	body, err := c.doGet(ctx, "/events?"+params.Encode())
	if err != nil {
		return nil, 0, fmt.Errorf("gamma: get events: %w", err)
	}

	var apiEvents []APIEvent
	if err := json.Unmarshal(body, &apiEvents); err != nil {
		return nil, 0, fmt.Errorf("gamma: decode events: %w: %v", domain.ErrCatalogUnavailable, err)
	}

	events := make([]domain.Event, 0, len(apiEvents))
	for i := range apiEvents {
		ev, err := apiEvents[i].ToDomain()
		if err != nil {
			c.logger.Warn("dropping malformed event", "slug", apiEvents[i].Slug, "error", err)
			continue
		}
		if apiEvents[i].Coerced() {
			c.logger.Debug("normalized loosely encoded event", "slug", apiEvents[i].Slug)
		}
		events = append(events, ev)
	}

	return events, len(apiEvents), nil
}

// GetAllEvents pages through the /events endpoint until a short page signals
// the end of the catalog.
func (c *Client) GetAllEvents(ctx context.Context) ([]domain.Event, error) {
	var all []domain.Event
	offset := 0

	for {
		page, rawCount, err := c.eventsPage(ctx, c.pageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if rawCount < c.pageSize {
			break
		}
		offset += c.pageSize
	}

	c.logger.Debug("fetched event catalog", "events", len(all))
	return all, nil
}

// GetAllTradeableEvents returns the full catalog filtered to events that are
// active and neither restricted, archived, nor closed.
func (c *Client) GetAllTradeableEvents(ctx context.Context) ([]domain.Event, error) {
	events, err := c.GetAllEvents(ctx)
	if err != nil {
		return nil, err
	}

	tradeable := make([]domain.Event, 0, len(events))
	for _, ev := range events {
		if ev.Tradeable() {
			tradeable = append(tradeable, ev)
		}
	}

	c.logger.Info("filtered tradeable events", "total", len(events), "tradeable", len(tradeable))
	return tradeable, nil
}

// GetMarket returns a single market by its numeric Gamma ID. A malformed
// record is an error here because the caller asked for this exact market.
func (c *Client) GetMarket(ctx context.Context, id int64) (domain.Market, error) {
	body, err := c.doGet(ctx, "/markets/"+strconv.FormatInt(id, 10))
	if err != nil {
		return domain.Market{}, fmt.Errorf("gamma: get market %d: %w", id, err)
	}

	var apiMarket APIMarket
	if err := json.Unmarshal(body, &apiMarket); err != nil {
		return domain.Market{}, fmt.Errorf("gamma: decode market %d: %w: %v", id, domain.ErrMalformedRecord, err)
	}
	if apiMarket.Coerced() {
		c.logger.Debug("normalized loosely encoded market", "market_id", id)
	}

	return apiMarket.ToDomain()
}

// marketFetchConcurrency bounds parallel per-market requests against Gamma's
// unauthenticated rate limits.
const marketFetchConcurrency = 8

// GetMarkets fetches each listed market by ID, dropping malformed records
// with a warning. Fetches run concurrently; results keep the input order.
func (c *Client) GetMarkets(ctx context.Context, ids []int64) ([]domain.Market, error) {
	results := make([]*domain.Market, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(marketFetchConcurrency)

	for i, id := range ids {
		g.Go(func() error {
			m, err := c.GetMarket(gctx, id)
			if err != nil {
				if isMalformed(err) {
					c.logger.Warn("dropping malformed market", "market_id", id, "error", err)
					return nil
				}
				return err
			}
			results[i] = &m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	markets := make([]domain.Market, 0, len(ids))
	for _, m := range results {
		if m != nil {
			markets = append(markets, *m)
		}
	}
	return markets, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func isMalformed(err error) bool {
	return errors.Is(err, domain.ErrMalformedRecord)
}

// doGet sends an unauthenticated GET request to the Gamma API. Transport
// failures and non-2xx responses map to ErrCatalogUnavailable so the pipeline
// can treat the whole catalog as down.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCatalogUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrCatalogUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: HTTP %d: %s", domain.ErrCatalogUnavailable, resp.StatusCode, string(body))
	}

	return body, nil
}
