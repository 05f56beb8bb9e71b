package clob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/polyseer/polyseer/internal/crypto"
	"github.com/polyseer/polyseer/internal/domain"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	signer, err := crypto.NewSigner(testKey, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	auth := &crypto.HMACAuth{Key: "k", Secret: "c2VjcmV0", Passphrase: "p"}
	return NewClient(baseURL, signer, auth, testLogger())
}

func testOrder() domain.SignedOrder {
	return domain.SignedOrder{
		Salt:          "1",
		Maker:         "0x1111111111111111111111111111111111111111",
		Signer:        "0x1111111111111111111111111111111111111111",
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       "123",
		MakerAmount:   big.NewInt(5000000),
		TakerAmount:   big.NewInt(0),
		FeeRateBps:    "1",
		Nonce:         "1700000000",
		Side:          domain.SideCodeBuy,
		Expiration:    "0",
		SignatureType: domain.SignatureTypeEOA,
		Signature:     "0xsig",
	}
}

func TestPostOrderSuccess(t *testing.T) {
	var captured orderPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/order" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("POLY_SIGNATURE") == "" || r.Header.Get("POLY_API_KEY") != "k" {
			t.Fatal("missing L2 auth headers")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		fmt.Fprint(w, `{"success": true, "orderID": "ord-1", "status": "matched", "takingAmount": "10", "makingAmount": "5"}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	receipt, err := c.PostOrder(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("PostOrder: %v", err)
	}

	if !receipt.Success || receipt.OrderID != "ord-1" || receipt.Status != "matched" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	if captured.Order.Side != "BUY" {
		t.Fatalf("side = %q, want BUY", captured.Order.Side)
	}
	if captured.Order.MakerAmount != "5000000" || captured.Order.TakerAmount != "0" {
		t.Fatalf("amounts not serialized: %+v", captured.Order)
	}
	if captured.OrderType != "FOK" {
		t.Fatalf("orderType = %q, want FOK", captured.OrderType)
	}
}

func TestPostOrderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success": false, "errorMsg": "not enough balance"}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	receipt, err := c.PostOrder(context.Background(), testOrder())
	if !errors.Is(err, domain.ErrOrderRejected) {
		t.Fatalf("expected ErrOrderRejected, got %v", err)
	}
	if receipt.Success {
		t.Fatal("rejected receipt marked successful")
	}
	if receipt.Message != "not enough balance" {
		t.Fatalf("message = %q", receipt.Message)
	}
}

func TestPostOrderHTTPErrorMapsToRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid order", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.PostOrder(context.Background(), testOrder())
	if !errors.Is(err, domain.ErrOrderRejected) {
		t.Fatalf("expected ErrOrderRejected, got %v", err)
	}
}

func TestPostOrderWithoutCredentials(t *testing.T) {
	signer, _ := crypto.NewSigner(testKey, 137)
	c := NewClient("http://unused", signer, nil, testLogger())

	_, err := c.PostOrder(context.Background(), testOrder())
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

type stubLimiter struct {
	allow bool
	err   error
	calls int
}

func (l *stubLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	l.calls++
	return l.allow, l.err
}

func TestPostOrderRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request reached the API despite exhausted budget")
	}))
	defer srv.Close()

	limiter := &stubLimiter{allow: false}
	c := testClient(t, srv.URL).WithRateLimiter(limiter)

	_, err := c.PostOrder(context.Background(), testOrder())
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if limiter.calls != 1 {
		t.Fatalf("limiter consulted %d times", limiter.calls)
	}
}

func TestBrokenLimiterDoesNotBlockRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success": true, "orderID": "ord-2", "status": "matched"}`)
	}))
	defer srv.Close()

	limiter := &stubLimiter{err: errors.New("redis down")}
	c := testClient(t, srv.URL).WithRateLimiter(limiter)

	receipt, err := c.PostOrder(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("PostOrder: %v", err)
	}
	if receipt.OrderID != "ord-2" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
}

func TestGetPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token_id") != "123" || r.URL.Query().Get("side") != "buy" {
			t.Fatalf("unexpected query %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, `{"price": "0.57"}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	price, err := c.GetPrice(context.Background(), "123", "buy")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if price != 0.57 {
		t.Fatalf("price = %v, want 0.57", price)
	}
}

func TestGetOrderbook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"asset_id": "123", "bids": [{"price": "0.55", "size": "100"}], "asks": [{"price": "0.58", "size": "80"}]}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	book, err := c.GetOrderbook(context.Background(), "123")
	if err != nil {
		t.Fatalf("GetOrderbook: %v", err)
	}
	if len(book.Bids) != 1 || book.Bids[0].Price != "0.55" {
		t.Fatalf("bids not parsed: %+v", book)
	}
}

func TestDeriveAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/derive-api-key" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		for _, h := range []string{"POLY_ADDRESS", "POLY_SIGNATURE", "POLY_TIMESTAMP", "POLY_NONCE"} {
			if r.Header.Get(h) == "" {
				t.Fatalf("missing header %s", h)
			}
		}
		fmt.Fprint(w, `{"apiKey": "new-key", "secret": "bmV3", "passphrase": "new-pass"}`)
	}))
	defer srv.Close()

	signer, _ := crypto.NewSigner(testKey, 137)
	c := NewClient(srv.URL, signer, nil, testLogger())

	if err := c.DeriveAPIKey(context.Background()); err != nil {
		t.Fatalf("DeriveAPIKey: %v", err)
	}
	if c.apiKey() != "new-key" {
		t.Fatalf("credentials not stored: %q", c.apiKey())
	}
}
