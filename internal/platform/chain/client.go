package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/polyseer/polyseer/internal/domain"
)

const (
	defaultReceiptWait  = 600 * time.Second
	defaultPollInterval = 2 * time.Second

	// Generous fixed limits for approve/setApprovalForAll, both simple
	// storage writes.
	approvalGasLimit = 150_000
)

// MaxUint256 is the unlimited allowance value used for collateral approvals.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

const erc20ABIJSON = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const erc1155ABIJSON = `[
	{"name":"isApprovedForAll","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"setApprovalForAll","type":"function","stateMutability":"nonpayable","inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]}
]`

var (
	erc20ABI   abi.ABI
	erc1155ABI abi.ABI
)

func init() {
	var err error
	erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic(fmt.Sprintf("chain: parse erc20 abi: %v", err))
	}
	erc1155ABI, err = abi.JSON(strings.NewReader(erc1155ABIJSON))
	if err != nil {
		panic(fmt.Sprintf("chain: parse erc1155 abi: %v", err))
	}
}

// Backend is the subset of the Ethereum JSON-RPC surface the client needs.
// *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client performs the on-chain reads and approval transactions the exchange
// layer needs: collateral balances, ERC-20 allowances, and ERC-1155 operator
// approvals on Polygon.
type Client struct {
	backend      Backend
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	chainID      *big.Int
	receiptWait  time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

// Dial connects to a JSON-RPC endpoint and returns a Client bound to the
// given key and chain.
func Dial(ctx context.Context, rpcURL, privateKeyHex string, chainID int64, logger *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}

	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: invalid private key: %w", err)
	}

	return New(eth, pk, chainID, logger), nil
}

// New builds a Client on an existing backend. Tests use this with a fake
// backend.
func New(backend Backend, pk *ecdsa.PrivateKey, chainID int64, logger *slog.Logger) *Client {
	return &Client{
		backend:      backend,
		privateKey:   pk,
		address:      ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:      big.NewInt(chainID),
		receiptWait:  defaultReceiptWait,
		pollInterval: defaultPollInterval,
		logger:       logger.With("component", "chain"),
	}
}

// Address returns the sender address derived from the configured key.
func (c *Client) Address() common.Address {
	return c.address
}

// BalanceOf returns the ERC-20 balance of owner in base units.
func (c *Client) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := c.callView(ctx, erc20ABI, token, "balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("chain: balanceOf: %w", err)
	}
	return out[0].(*big.Int), nil
}

// Decimals returns the ERC-20 decimals of token.
func (c *Client) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	out, err := c.callView(ctx, erc20ABI, token, "decimals")
	if err != nil {
		return 0, fmt.Errorf("chain: decimals: %w", err)
	}
	return out[0].(uint8), nil
}

// Allowance returns the ERC-20 allowance owner has granted spender.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	out, err := c.callView(ctx, erc20ABI, token, "allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("chain: allowance: %w", err)
	}
	return out[0].(*big.Int), nil
}

// IsApprovedForAll reports whether operator may transfer owner's ERC-1155
// tokens.
func (c *Client) IsApprovedForAll(ctx context.Context, token, owner, operator common.Address) (bool, error) {
	out, err := c.callView(ctx, erc1155ABI, token, "isApprovedForAll", owner, operator)
	if err != nil {
		return false, fmt.Errorf("chain: isApprovedForAll: %w", err)
	}
	return out[0].(bool), nil
}

// Approve grants spender an unlimited allowance on token and returns the
// transaction hash.
func (c *Client) Approve(ctx context.Context, token, spender common.Address) (common.Hash, error) {
	data, err := erc20ABI.Pack("approve", spender, MaxUint256)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: pack approve: %w", err)
	}
	hash, err := c.sendTransaction(ctx, token, data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: approve: %w", err)
	}
	c.logger.Info("sent approve", "token", token.Hex(), "spender", spender.Hex(), "tx", hash.Hex())
	return hash, nil
}

// SetApprovalForAll grants operator transfer rights over the sender's
// ERC-1155 tokens and returns the transaction hash.
func (c *Client) SetApprovalForAll(ctx context.Context, token, operator common.Address) (common.Hash, error) {
	data, err := erc1155ABI.Pack("setApprovalForAll", operator, true)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: pack setApprovalForAll: %w", err)
	}
	hash, err := c.sendTransaction(ctx, token, data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: setApprovalForAll: %w", err)
	}
	c.logger.Info("sent setApprovalForAll", "token", token.Hex(), "operator", operator.Hex(), "tx", hash.Hex())
	return hash, nil
}

// WaitReceipt polls for the transaction receipt, bounded by the configured
// receipt wait (600s by default). A transaction still pending when the bound
// elapses maps to ErrApprovalTimeout. A mined-but-reverted transaction is an
// error too.
func (c *Client) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(c.receiptWait)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("chain: tx %s reverted", hash.Hex())
			}
			return receipt, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("chain: %w: tx %s after %s", domain.ErrApprovalTimeout, hash.Hex(), c.receiptWait)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("chain: wait receipt: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) callView(ctx context.Context, contractABI abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	out, err := contractABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

func (c *Client) sendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	nonce, err := c.backend.PendingNonceAt(ctx, c.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
	}

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      approvalGasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}

	return signed.Hash(), nil
}
