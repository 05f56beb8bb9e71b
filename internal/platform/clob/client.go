package clob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/polyseer/polyseer/internal/crypto"
	"github.com/polyseer/polyseer/internal/domain"
)

// Polymarket allows 60 order placements per 10 seconds per key.
const (
	rateLimitKey    = "clob:requests"
	rateLimitMax    = 60
	rateLimitWindow = 10 * time.Second
)

// Client is the REST client for the Polymarket CLOB (Central Limit Order
// Book) API. It submits signed orders and serves read-only market data.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
	limiter    domain.RateLimiter
	logger     *slog.Logger
}

// NewClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com". hmac may
// be nil, in which case DeriveAPIKey must be called before any authenticated
// request.
func NewClient(baseURL string, signer *crypto.Signer, hmac *crypto.HMACAuth, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:   signer,
		hmacAuth: hmac,
		logger:   logger.With("component", "clob"),
	}
}

// WithRateLimiter installs a request budget shared across processes. Calls
// that would exceed it fail with ErrRateLimited instead of hitting the API.
func (c *Client) WithRateLimiter(l domain.RateLimiter) *Client {
	c.limiter = l
	return c
}

func (c *Client) throttle(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	ok, err := c.limiter.Allow(ctx, rateLimitKey, rateLimitMax, rateLimitWindow)
	if err != nil {
		// A broken limiter backend must not block trading.
		c.logger.Warn("rate limiter check failed", "error", err)
		return nil
	}
	if !ok {
		return fmt.Errorf("%w: local request budget exhausted", domain.ErrRateLimited)
	}
	return nil
}

// orderPayload mirrors the CLOB's POST /order body.
type orderPayload struct {
	Order     orderBody `json:"order"`
	Owner     string    `json:"owner"`
	OrderType string    `json:"orderType"`
}

type orderBody struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// orderResult is the CLOB's response to a posted order.
type orderResult struct {
	Success     bool     `json:"success"`
	ErrorMsg    string   `json:"errorMsg"`
	OrderID     string   `json:"orderID"`
	Status      string   `json:"status"`
	TakingAmt   string   `json:"takingAmount"`
	MakingAmt   string   `json:"makingAmount"`
	TransactIDs []string `json:"transactionsHashes"`
}

// PostOrder submits a signed order as a fill-or-kill market order. The order
// must already carry a valid EIP-712 signature. A CLOB-side rejection maps to
// ErrOrderRejected.
func (c *Client) PostOrder(ctx context.Context, order domain.SignedOrder) (domain.OrderReceipt, error) {
	side := "BUY"
	if order.Side == domain.SideCodeSell {
		side = "SELL"
	}

	payload := orderPayload{
		Order: orderBody{
			Salt:          order.Salt,
			Maker:         order.Maker,
			Signer:        order.Signer,
			Taker:         order.Taker,
			TokenID:       order.TokenID,
			MakerAmount:   order.MakerAmount.String(),
			TakerAmount:   order.TakerAmount.String(),
			Expiration:    order.Expiration,
			Nonce:         order.Nonce,
			FeeRateBps:    order.FeeRateBps,
			Side:          side,
			SignatureType: order.SignatureType,
			Signature:     order.Signature,
		},
		Owner:     c.apiKey(),
		OrderType: "FOK",
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", payload)
	if err != nil {
		return domain.OrderReceipt{}, fmt.Errorf("clob: post order: %w", err)
	}

	var result orderResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return domain.OrderReceipt{}, fmt.Errorf("clob: decode order result: %w", err)
	}

	receipt := domain.OrderReceipt{
		Success:     result.Success,
		OrderID:     result.OrderID,
		Status:      result.Status,
		Message:     result.ErrorMsg,
		TakingAmt:   result.TakingAmt,
		MakingAmt:   result.MakingAmt,
		TransactIDs: result.TransactIDs,
		SubmittedAt: time.Now().UTC(),
	}

	if !result.Success {
		return receipt, fmt.Errorf("clob: %w: %s", domain.ErrOrderRejected, result.ErrorMsg)
	}

	c.logger.Info("order accepted", "order_id", receipt.OrderID, "status", receipt.Status)
	return receipt, nil
}

// PriceLevel is one level of the orderbook.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// Orderbook is the book snapshot for one token.
type Orderbook struct {
	Market    string       `json:"market"`
	AssetID   string       `json:"asset_id"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp string       `json:"timestamp"`
}

// GetOrderbook returns the current book for a token.
func (c *Client) GetOrderbook(ctx context.Context, tokenID string) (Orderbook, error) {
	respBody, err := c.doGet(ctx, "/book?token_id="+tokenID)
	if err != nil {
		return Orderbook{}, fmt.Errorf("clob: get orderbook: %w", err)
	}

	var book Orderbook
	if err := json.Unmarshal(respBody, &book); err != nil {
		return Orderbook{}, fmt.Errorf("clob: decode orderbook: %w", err)
	}
	return book, nil
}

// GetPrice returns the best price for a token on the given side ("buy" or
// "sell").
func (c *Client) GetPrice(ctx context.Context, tokenID, side string) (float64, error) {
	respBody, err := c.doGet(ctx, "/price?token_id="+tokenID+"&side="+side)
	if err != nil {
		return 0, fmt.Errorf("clob: get price: %w", err)
	}

	var resp struct {
		Price json.Number `json:"price"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return 0, fmt.Errorf("clob: decode price: %w", err)
	}
	price, err := resp.Price.Float64()
	if err != nil {
		return 0, fmt.Errorf("clob: parse price %q: %w", resp.Price, err)
	}
	return price, nil
}

// DeriveAPIKey performs the CLOB auth flow to obtain HMAC credentials. It
// signs a ClobAuth EIP-712 message and sends it with L1 headers. On success
// the credentials are stored on the client for subsequent L2 requests.
func (c *Client) DeriveAPIKey(ctx context.Context) error {
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", fmt.Sprintf("%d", timestamp))
	req.Header.Set("POLY_NONCE", fmt.Sprintf("%d", nonce))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("clob: read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("clob: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("clob: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}

	c.logger.Info("derived api key", "address", address)
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) apiKey() string {
	if c.hmacAuth == nil {
		return ""
	}
	return c.hmacAuth.Key
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// doAuthenticatedRequest sends an L2-authenticated request. The HMAC covers
// timestamp, method, path, and the exact serialized body.
func (c *Client) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.hmacAuth == nil {
		return nil, fmt.Errorf("%w: no api credentials, call DeriveAPIKey first", domain.ErrUnauthorized)
	}
	address := c.signer.Address().Hex()
	for k, v := range c.hmacAuth.L2Headers(address, method, path, bodyStr) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrOrderRejected, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
