package domain

import (
	"fmt"
	"time"
)

// Market represents a single prediction market. Outcomes, OutcomePrices and
// ClobTokenIDs are parallel slices: index i holds the label, last price, and
// exchange token ID of outcome i.
type Market struct {
	ID               int64
	Question         string
	Description      string
	EndDate          time.Time
	Active           bool
	Funded           bool
	RewardsMinSize   float64
	RewardsMaxSpread float64
	Spread           float64
	Outcomes         []string
	OutcomePrices    []float64
	ClobTokenIDs     []string
}

// Validate checks the outcome-alignment invariant: the outcome labels, prices
// and token IDs must have the same cardinality, and a market must have at
// least one outcome.
func (m Market) Validate() error {
	if len(m.Outcomes) == 0 {
		return fmt.Errorf("%w: market %d has no outcomes", ErrMalformedRecord, m.ID)
	}
	if len(m.Outcomes) != len(m.OutcomePrices) || len(m.Outcomes) != len(m.ClobTokenIDs) {
		return fmt.Errorf("%w: market %d outcome misalignment (%d labels, %d prices, %d tokens)",
			ErrMalformedRecord, m.ID, len(m.Outcomes), len(m.OutcomePrices), len(m.ClobTokenIDs))
	}
	return nil
}

// TokenAt returns the exchange token ID for outcome index i.
func (m Market) TokenAt(i int) (string, error) {
	if i < 0 || i >= len(m.ClobTokenIDs) {
		return "", fmt.Errorf("%w: market %d has no outcome index %d", ErrInvalidOrder, m.ID, i)
	}
	return m.ClobTokenIDs[i], nil
}
