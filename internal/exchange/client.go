package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/polyseer/polyseer/internal/crypto"
	"github.com/polyseer/polyseer/internal/domain"
)

// collateralScale converts between USDC base units and whole dollars.
const collateralScale = 1e6

// zeroAddress is the open taker: anyone may fill the order.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// State tracks how far the client has progressed through its setup sequence.
// Trading operations are gated on StateReady.
type State int

const (
	StateUninitialized State = iota
	StateApprovalsChecked
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateApprovalsChecked:
		return "approvals_checked"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// ChainReader performs the on-chain reads and approval writes. The chain
// package's client satisfies it.
type ChainReader interface {
	Address() common.Address
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	IsApprovedForAll(ctx context.Context, token, owner, operator common.Address) (bool, error)
	Approve(ctx context.Context, token, spender common.Address) (common.Hash, error)
	SetApprovalForAll(ctx context.Context, token, operator common.Address) (common.Hash, error)
	WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// OrderGateway submits orders and serves credentials. The clob package's
// client satisfies it.
type OrderGateway interface {
	DeriveAPIKey(ctx context.Context) error
	PostOrder(ctx context.Context, order domain.SignedOrder) (domain.OrderReceipt, error)
}

// Config holds the trading parameters the exchange client needs beyond its
// collaborators.
type Config struct {
	Contracts Contracts
	// PrimaryOutcomeIndex selects which outcome's token a market order
	// targets. The historical default is 1, the second outcome.
	PrimaryOutcomeIndex int
	FeeRateBps          string
}

// Client orchestrates approvals, order construction, signing, and
// submission. It moves through StateUninitialized, StateApprovalsChecked,
// and StateReady in that order; trading calls before StateReady return
// ErrNotReady.
type Client struct {
	chain  ChainReader
	clob   OrderGateway
	signer *crypto.Signer
	nonce  domain.NonceSource
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	state State
}

// NewClient creates an exchange client in StateUninitialized.
func NewClient(chain ChainReader, clob OrderGateway, signer *crypto.Signer, nonce domain.NonceSource, cfg Config, logger *slog.Logger) *Client {
	if cfg.FeeRateBps == "" {
		cfg.FeeRateBps = "1"
	}
	return &Client{
		chain:  chain,
		clob:   clob,
		signer: signer,
		nonce:  nonce,
		cfg:    cfg,
		logger: logger.With("component", "exchange"),
		state:  StateUninitialized,
	}
}

// State returns the current setup state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// EnsureApprovals checks and, where missing, grants the collateral and CTF
// approvals both exchange contracts need. It is idempotent: approvals
// already on chain are left alone. Each granted approval waits for its
// receipt, bounded by the chain client's receipt window.
func (c *Client) EnsureApprovals(ctx context.Context) error {
	owner := c.chain.Address()

	for _, spender := range c.cfg.Contracts.spenders() {
		allowance, err := c.chain.Allowance(ctx, c.cfg.Contracts.USDC, owner, spender)
		if err != nil {
			return fmt.Errorf("exchange: check allowance for %s: %w", spender.Hex(), err)
		}
		if allowance.Sign() == 0 {
			hash, err := c.chain.Approve(ctx, c.cfg.Contracts.USDC, spender)
			if err != nil {
				return fmt.Errorf("exchange: approve collateral for %s: %w", spender.Hex(), err)
			}
			if _, err := c.chain.WaitReceipt(ctx, hash); err != nil {
				return fmt.Errorf("exchange: collateral approval for %s: %w", spender.Hex(), err)
			}
			c.logger.Info("granted collateral allowance", "spender", spender.Hex())
		}

		approved, err := c.chain.IsApprovedForAll(ctx, c.cfg.Contracts.CTF, owner, spender)
		if err != nil {
			return fmt.Errorf("exchange: check ctf approval for %s: %w", spender.Hex(), err)
		}
		if !approved {
			hash, err := c.chain.SetApprovalForAll(ctx, c.cfg.Contracts.CTF, spender)
			if err != nil {
				return fmt.Errorf("exchange: set ctf approval for %s: %w", spender.Hex(), err)
			}
			if _, err := c.chain.WaitReceipt(ctx, hash); err != nil {
				return fmt.Errorf("exchange: ctf approval for %s: %w", spender.Hex(), err)
			}
			c.logger.Info("granted ctf operator approval", "operator", spender.Hex())
		}
	}

	c.mu.Lock()
	if c.state < StateApprovalsChecked {
		c.state = StateApprovalsChecked
	}
	c.mu.Unlock()

	return nil
}

// Init derives API credentials for authenticated CLOB calls. Approvals must
// have been checked first.
func (c *Client) Init(ctx context.Context) error {
	if c.State() < StateApprovalsChecked {
		return fmt.Errorf("exchange: init: %w: approvals not checked", domain.ErrNotReady)
	}

	if err := c.clob.DeriveAPIKey(ctx); err != nil {
		return fmt.Errorf("exchange: init: %w", err)
	}

	c.mu.Lock()
	c.state = StateReady
	c.mu.Unlock()

	c.logger.Info("exchange client ready", "address", c.chain.Address().Hex())
	return nil
}

// CollateralBalance returns the wallet's USDC balance in whole dollars.
func (c *Client) CollateralBalance(ctx context.Context) (float64, error) {
	bal, err := c.chain.BalanceOf(ctx, c.cfg.Contracts.USDC, c.chain.Address())
	if err != nil {
		return 0, fmt.Errorf("exchange: collateral balance: %w", err)
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(bal), big.NewFloat(collateralScale)).Float64()
	return f, nil
}

// BuildOrder constructs and signs an order committing amountUSD of
// collateral at the given price. The amount split is side-dependent: a BUY
// commits collateral on the maker leg, a SELL on the taker leg, with the
// other leg zero. BuildOrder does not touch the network beyond the nonce
// source and performs no submission.
func (c *Client) BuildOrder(ctx context.Context, tokenID string, side domain.OrderSide, price, amountUSD float64) (domain.SignedOrder, error) {
	if c.State() != StateReady {
		return domain.SignedOrder{}, fmt.Errorf("exchange: build order: %w (state %s)", domain.ErrNotReady, c.State())
	}
	if tokenID == "" {
		return domain.SignedOrder{}, fmt.Errorf("exchange: %w: empty token id", domain.ErrInvalidOrder)
	}
	if price <= 0 || price >= 1 {
		return domain.SignedOrder{}, fmt.Errorf("exchange: %w: price %v out of (0,1)", domain.ErrInvalidOrder, price)
	}
	if amountUSD <= 0 {
		return domain.SignedOrder{}, fmt.Errorf("exchange: %w: amount %v not positive", domain.ErrInvalidOrder, amountUSD)
	}

	nonce, err := c.nonce.Next(ctx)
	if err != nil {
		return domain.SignedOrder{}, fmt.Errorf("exchange: next nonce: %w", err)
	}

	amountUnits := big.NewInt(int64(amountUSD * collateralScale))

	var sideCode int
	maker, taker := big.NewInt(0), big.NewInt(0)
	switch side {
	case domain.OrderSideBuy:
		sideCode = domain.SideCodeBuy
		maker = amountUnits
	case domain.OrderSideSell:
		sideCode = domain.SideCodeSell
		taker = amountUnits
	default:
		return domain.SignedOrder{}, fmt.Errorf("exchange: %w: side %q", domain.ErrInvalidOrder, side)
	}

	address := c.signer.Address().Hex()
	order := domain.SignedOrder{
		Salt:          strconv.FormatInt(rand.Int63(), 10),
		Maker:         address,
		Signer:        address,
		Taker:         zeroAddress,
		TokenID:       tokenID,
		MakerAmount:   maker,
		TakerAmount:   taker,
		FeeRateBps:    c.cfg.FeeRateBps,
		Nonce:         nonce,
		Side:          sideCode,
		Expiration:    "0",
		SignatureType: domain.SignatureTypeEOA,
	}

	sig, err := c.signer.SignOrder(crypto.OrderPayload{
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
		Side:          order.Side,
		SignatureType: order.SignatureType,
	}, c.cfg.Contracts.Exchange.Hex())
	if err != nil {
		return domain.SignedOrder{}, fmt.Errorf("exchange: %w: %v", domain.ErrSigningFailed, err)
	}
	order.Signature = sig

	return order, nil
}

// SubmitOrder sends a signed order to the CLOB.
func (c *Client) SubmitOrder(ctx context.Context, order domain.SignedOrder) (domain.OrderReceipt, error) {
	if c.State() != StateReady {
		return domain.OrderReceipt{}, fmt.Errorf("exchange: submit order: %w (state %s)", domain.ErrNotReady, c.State())
	}

	receipt, err := c.clob.PostOrder(ctx, order)
	if err != nil {
		return receipt, fmt.Errorf("exchange: submit order: %w", err)
	}
	return receipt, nil
}

// ExecuteMarketOrder sizes, builds, signs, and submits an order against the
// market's primary outcome token. The intent's size is a fraction of the
// wallet's collateral balance. The signed order is returned alongside the
// receipt so callers can persist its nonce and signature.
func (c *Client) ExecuteMarketOrder(ctx context.Context, market domain.Market, intent domain.TradeIntent) (domain.SignedOrder, domain.OrderReceipt, error) {
	if c.State() != StateReady {
		return domain.SignedOrder{}, domain.OrderReceipt{}, fmt.Errorf("exchange: execute market order: %w (state %s)", domain.ErrNotReady, c.State())
	}
	if err := intent.Validate(); err != nil {
		return domain.SignedOrder{}, domain.OrderReceipt{}, fmt.Errorf("exchange: execute market order: %w", err)
	}

	tokenID, err := market.TokenAt(c.cfg.PrimaryOutcomeIndex)
	if err != nil {
		return domain.SignedOrder{}, domain.OrderReceipt{}, fmt.Errorf("exchange: execute market order: %w", err)
	}

	balance, err := c.CollateralBalance(ctx)
	if err != nil {
		return domain.SignedOrder{}, domain.OrderReceipt{}, err
	}
	amount := balance * intent.Size
	if amount <= 0 {
		return domain.SignedOrder{}, domain.OrderReceipt{}, fmt.Errorf("exchange: %w: zero collateral balance", domain.ErrInvalidOrder)
	}

	order, err := c.BuildOrder(ctx, tokenID, intent.Side, intent.Price, amount)
	if err != nil {
		return domain.SignedOrder{}, domain.OrderReceipt{}, err
	}

	c.logger.Info("submitting market order",
		"market_id", market.ID,
		"token_id", tokenID,
		"side", intent.Side,
		"price", intent.Price,
		"amount_usd", amount,
	)

	receipt, err := c.SubmitOrder(ctx, order)
	return order, receipt, err
}
