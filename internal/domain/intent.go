package domain

import (
	"fmt"
	"regexp"
	"strconv"
)

// OrderSide indicates whether an intent buys or sells outcome tokens.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// TradeIntent is the structured result of parsing the oracle's trade
// recommendation. Price is a probability-as-price in (0,1) exclusive; Size is
// the fraction of available collateral to commit, in (0,1].
type TradeIntent struct {
	Side    OrderSide
	Price   float64
	Size    float64
	TokenID string
}

// intentRe matches the recommendation grammar the oracle is prompted to emit:
//
//	price:<float>, size:<float>, side:<BUY|SELL>
//
// Whitespace between fields is tolerated because the model rarely reproduces
// the template byte-for-byte.
var intentRe = regexp.MustCompile(
	`price:\s*([0-9]*\.?[0-9]+)\s*,\s*size:\s*([0-9]*\.?[0-9]+)\s*,\s*side:\s*(BUY|SELL)`,
)

// ParseTradeIntent scans free text for the trade grammar and returns the
// parsed intent bound to the given token ID. Text without a grammar match
// returns ErrUnparsableForecast; this is a normal, recoverable condition, not
// a crash.
func ParseTradeIntent(text, tokenID string) (TradeIntent, error) {
	m := intentRe.FindStringSubmatch(text)
	if m == nil {
		return TradeIntent{}, fmt.Errorf("%w: %q", ErrUnparsableForecast, truncate(text, 120))
	}

	price, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return TradeIntent{}, fmt.Errorf("%w: price %q", ErrUnparsableForecast, m[1])
	}
	size, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return TradeIntent{}, fmt.Errorf("%w: size %q", ErrUnparsableForecast, m[2])
	}

	intent := TradeIntent{
		Side:    OrderSide(m[3]),
		Price:   price,
		Size:    size,
		TokenID: tokenID,
	}
	if err := intent.Validate(); err != nil {
		return TradeIntent{}, err
	}
	return intent, nil
}

// Validate rejects out-of-range intents before any order is constructed.
func (ti TradeIntent) Validate() error {
	if ti.Side != OrderSideBuy && ti.Side != OrderSideSell {
		return fmt.Errorf("%w: side %q", ErrInvalidIntent, ti.Side)
	}
	if ti.Price <= 0 || ti.Price >= 1 {
		return fmt.Errorf("%w: price %g outside (0,1)", ErrInvalidIntent, ti.Price)
	}
	if ti.Size <= 0 || ti.Size > 1 {
		return fmt.Errorf("%w: size %g outside (0,1]", ErrInvalidIntent, ti.Size)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
