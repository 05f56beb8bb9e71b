package domain

import (
	"math/big"
	"time"
)

// Side codes used in the signed order payload.
const (
	SideCodeBuy  = 0
	SideCodeSell = 1
)

// SignatureType codes per the exchange's order schema.
const (
	SignatureTypeEOA = 0
)

// SignedOrder is a fully constructed, EIP-712 signed order ready for
// submission. Amounts are integer collateral/share base units (1e6 scale).
// The amount split is side-dependent: a BUY commits MakerAmount collateral
// and a SELL commits TakerAmount, with the other leg zero.
type SignedOrder struct {
	Salt          string
	Maker         string
	Signer        string
	Taker         string
	TokenID       string
	MakerAmount   *big.Int
	TakerAmount   *big.Int
	FeeRateBps    string
	Nonce         string
	Side          int // 0 = BUY, 1 = SELL
	Expiration    string
	SignatureType int
	Signature     string
}

// OrderReceipt is the exchange's response to a submitted order.
type OrderReceipt struct {
	Success     bool
	OrderID     string
	Status      string
	Message     string
	TakingAmt   string
	MakingAmt   string
	TransactIDs []string
	SubmittedAt time.Time
}
