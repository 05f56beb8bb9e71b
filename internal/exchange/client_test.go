package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/polyseer/polyseer/internal/crypto"
	"github.com/polyseer/polyseer/internal/domain"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type fakeChain struct {
	address     common.Address
	balance     *big.Int
	allowances  map[common.Address]*big.Int
	ctfApproved map[common.Address]bool
	approveTxs  int
	ctfTxs      int
	receiptErr  error
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		address:     common.HexToAddress("0x1111111111111111111111111111111111111111"),
		balance:     big.NewInt(100_000_000), // 100 USDC
		allowances:  map[common.Address]*big.Int{},
		ctfApproved: map[common.Address]bool{},
	}
}

func (f *fakeChain) Address() common.Address { return f.address }

func (f *fakeChain) BalanceOf(context.Context, common.Address, common.Address) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeChain) Allowance(_ context.Context, _, _, spender common.Address) (*big.Int, error) {
	if a, ok := f.allowances[spender]; ok {
		return a, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeChain) IsApprovedForAll(_ context.Context, _, _, operator common.Address) (bool, error) {
	return f.ctfApproved[operator], nil
}

func (f *fakeChain) Approve(_ context.Context, _, spender common.Address) (common.Hash, error) {
	f.approveTxs++
	f.allowances[spender] = MaxApproval()
	return common.HexToHash(fmt.Sprintf("0x%x", f.approveTxs)), nil
}

func (f *fakeChain) SetApprovalForAll(_ context.Context, _, operator common.Address) (common.Hash, error) {
	f.ctfTxs++
	f.ctfApproved[operator] = true
	return common.HexToHash(fmt.Sprintf("0xf%x", f.ctfTxs)), nil
}

func (f *fakeChain) WaitReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

// MaxApproval mirrors an unlimited on-chain allowance.
func MaxApproval() *big.Int {
	return new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
}

type fakeGateway struct {
	derived  bool
	posted   []domain.SignedOrder
	receipt  domain.OrderReceipt
	postErr  error
	derveErr error
}

func (f *fakeGateway) DeriveAPIKey(context.Context) error {
	if f.derveErr != nil {
		return f.derveErr
	}
	f.derived = true
	return nil
}

func (f *fakeGateway) PostOrder(_ context.Context, order domain.SignedOrder) (domain.OrderReceipt, error) {
	f.posted = append(f.posted, order)
	if f.postErr != nil {
		return domain.OrderReceipt{}, f.postErr
	}
	return f.receipt, nil
}

func testExchange(t *testing.T, chain ChainReader, gw OrderGateway) *Client {
	t.Helper()
	signer, err := crypto.NewSigner(testKey, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(chain, gw, signer, WallClockNonce{}, Config{
		Contracts:           PolygonContracts(),
		PrimaryOutcomeIndex: 1,
	}, logger)
}

func readyExchange(t *testing.T, chain ChainReader, gw OrderGateway) *Client {
	t.Helper()
	c := testExchange(t, chain, gw)
	if err := c.EnsureApprovals(context.Background()); err != nil {
		t.Fatalf("EnsureApprovals: %v", err)
	}
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return c
}

func TestStateMachineOrdering(t *testing.T) {
	chain := newFakeChain()
	gw := &fakeGateway{}
	c := testExchange(t, chain, gw)

	if c.State() != StateUninitialized {
		t.Fatalf("initial state = %s", c.State())
	}

	// Init before approvals is rejected.
	if err := c.Init(context.Background()); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}

	// Trading before ready is rejected.
	if _, err := c.BuildOrder(context.Background(), "1", domain.OrderSideBuy, 0.5, 10); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if _, err := c.SubmitOrder(context.Background(), domain.SignedOrder{}); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}

	if err := c.EnsureApprovals(context.Background()); err != nil {
		t.Fatalf("EnsureApprovals: %v", err)
	}
	if c.State() != StateApprovalsChecked {
		t.Fatalf("state after approvals = %s", c.State())
	}

	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if c.State() != StateReady || !gw.derived {
		t.Fatalf("state = %s, derived = %v", c.State(), gw.derived)
	}
}

func TestEnsureApprovalsGrantsAllFour(t *testing.T) {
	chain := newFakeChain()
	c := testExchange(t, chain, &fakeGateway{})

	if err := c.EnsureApprovals(context.Background()); err != nil {
		t.Fatalf("EnsureApprovals: %v", err)
	}

	// Two spenders, one collateral approve and one CTF approval each.
	if chain.approveTxs != 2 || chain.ctfTxs != 2 {
		t.Fatalf("txs = %d approve, %d ctf; want 2 and 2", chain.approveTxs, chain.ctfTxs)
	}
}

func TestEnsureApprovalsIdempotent(t *testing.T) {
	chain := newFakeChain()
	c := testExchange(t, chain, &fakeGateway{})

	if err := c.EnsureApprovals(context.Background()); err != nil {
		t.Fatalf("first EnsureApprovals: %v", err)
	}
	if err := c.EnsureApprovals(context.Background()); err != nil {
		t.Fatalf("second EnsureApprovals: %v", err)
	}

	if chain.approveTxs != 2 || chain.ctfTxs != 2 {
		t.Fatalf("repeat run sent more txs: %d approve, %d ctf", chain.approveTxs, chain.ctfTxs)
	}
}

func TestEnsureApprovalsTimeout(t *testing.T) {
	chain := newFakeChain()
	chain.receiptErr = fmt.Errorf("chain: %w", domain.ErrApprovalTimeout)
	c := testExchange(t, chain, &fakeGateway{})

	err := c.EnsureApprovals(context.Background())
	if !errors.Is(err, domain.ErrApprovalTimeout) {
		t.Fatalf("expected ErrApprovalTimeout, got %v", err)
	}
	if c.State() != StateUninitialized {
		t.Fatalf("state advanced despite timeout: %s", c.State())
	}
}

func TestBuildOrderAmountSplit(t *testing.T) {
	c := readyExchange(t, newFakeChain(), &fakeGateway{})

	buy, err := c.BuildOrder(context.Background(), "123", domain.OrderSideBuy, 0.5, 10)
	if err != nil {
		t.Fatalf("BuildOrder buy: %v", err)
	}
	if buy.MakerAmount.Cmp(big.NewInt(10_000_000)) != 0 || buy.TakerAmount.Sign() != 0 {
		t.Fatalf("buy split wrong: maker=%s taker=%s", buy.MakerAmount, buy.TakerAmount)
	}
	if buy.Side != domain.SideCodeBuy || buy.Signature == "" {
		t.Fatalf("buy order incomplete: %+v", buy)
	}
	if buy.FeeRateBps != "1" || buy.Expiration != "0" || buy.Taker != zeroAddress {
		t.Fatalf("order constants wrong: %+v", buy)
	}

	sell, err := c.BuildOrder(context.Background(), "123", domain.OrderSideSell, 0.5, 10)
	if err != nil {
		t.Fatalf("BuildOrder sell: %v", err)
	}
	if sell.TakerAmount.Cmp(big.NewInt(10_000_000)) != 0 || sell.MakerAmount.Sign() != 0 {
		t.Fatalf("sell split wrong: maker=%s taker=%s", sell.MakerAmount, sell.TakerAmount)
	}
}

func TestBuildOrderRejectsBadParams(t *testing.T) {
	c := readyExchange(t, newFakeChain(), &fakeGateway{})

	cases := []struct {
		name   string
		token  string
		side   domain.OrderSide
		price  float64
		amount float64
	}{
		{"empty token", "", domain.OrderSideBuy, 0.5, 10},
		{"zero price", "1", domain.OrderSideBuy, 0, 10},
		{"price one", "1", domain.OrderSideBuy, 1, 10},
		{"zero amount", "1", domain.OrderSideBuy, 0.5, 0},
		{"bad side", "1", "HOLD", 0.5, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.BuildOrder(context.Background(), tc.token, tc.side, tc.price, tc.amount)
			if !errors.Is(err, domain.ErrInvalidOrder) {
				t.Fatalf("expected ErrInvalidOrder, got %v", err)
			}
		})
	}
}

func TestCollateralBalanceScaled(t *testing.T) {
	chain := newFakeChain()
	chain.balance = big.NewInt(12_345_678)
	c := readyExchange(t, chain, &fakeGateway{})

	bal, err := c.CollateralBalance(context.Background())
	if err != nil {
		t.Fatalf("CollateralBalance: %v", err)
	}
	if bal != 12.345678 {
		t.Fatalf("balance = %v, want 12.345678", bal)
	}
}

func TestExecuteMarketOrderTargetsPrimaryOutcome(t *testing.T) {
	chain := newFakeChain() // 100 USDC
	gw := &fakeGateway{receipt: domain.OrderReceipt{Success: true, OrderID: "ord-1"}}
	c := readyExchange(t, chain, gw)

	market := domain.Market{
		ID:            42,
		Outcomes:      []string{"Yes", "No"},
		OutcomePrices: []float64{0.6, 0.4},
		ClobTokenIDs:  []string{"token-yes", "token-no"},
	}
	intent := domain.TradeIntent{Side: domain.OrderSideBuy, Price: 0.4, Size: 0.1, TokenID: "token-no"}

	order, receipt, err := c.ExecuteMarketOrder(context.Background(), market, intent)
	if err != nil {
		t.Fatalf("ExecuteMarketOrder: %v", err)
	}
	if !receipt.Success || receipt.OrderID != "ord-1" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	if order.Nonce == "" || order.Signature == "" {
		t.Fatalf("signed order not surfaced: %+v", order)
	}

	if len(gw.posted) != 1 {
		t.Fatalf("posted %d orders, want 1", len(gw.posted))
	}
	posted := gw.posted[0]
	if posted.TokenID != "token-no" {
		t.Fatalf("order targets %q, want the second outcome token", posted.TokenID)
	}
	// 10% of 100 USDC.
	if posted.MakerAmount.Cmp(big.NewInt(10_000_000)) != 0 {
		t.Fatalf("order amount = %s, want 10000000", posted.MakerAmount)
	}
}

func TestExecuteMarketOrderRejectionPropagates(t *testing.T) {
	gw := &fakeGateway{postErr: fmt.Errorf("clob: %w: bad order", domain.ErrOrderRejected)}
	c := readyExchange(t, newFakeChain(), gw)

	market := domain.Market{
		ID:            1,
		Outcomes:      []string{"Yes", "No"},
		OutcomePrices: []float64{0.5, 0.5},
		ClobTokenIDs:  []string{"a", "b"},
	}
	intent := domain.TradeIntent{Side: domain.OrderSideBuy, Price: 0.5, Size: 0.1, TokenID: "b"}

	_, _, err := c.ExecuteMarketOrder(context.Background(), market, intent)
	if !errors.Is(err, domain.ErrOrderRejected) {
		t.Fatalf("expected ErrOrderRejected, got %v", err)
	}
}

func TestExecuteMarketOrderMissingOutcomeIndex(t *testing.T) {
	c := readyExchange(t, newFakeChain(), &fakeGateway{})

	market := domain.Market{
		ID:            1,
		Outcomes:      []string{"Yes"},
		OutcomePrices: []float64{0.5},
		ClobTokenIDs:  []string{"a"},
	}
	intent := domain.TradeIntent{Side: domain.OrderSideBuy, Price: 0.5, Size: 0.1, TokenID: "a"}

	if _, _, err := c.ExecuteMarketOrder(context.Background(), market, intent); err == nil {
		t.Fatal("single-outcome market accepted with primary index 1")
	}
}

func TestWallClockNonce(t *testing.T) {
	n1, err := WallClockNonce{}.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if n1 == "" || n1 == "0" {
		t.Fatalf("suspicious nonce %q", n1)
	}
}
