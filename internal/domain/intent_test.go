package domain

import (
	"errors"
	"testing"
)

func TestParseTradeIntent(t *testing.T) {
	intent, err := ParseTradeIntent("price:0.5, size:0.1, side:BUY", "tok-1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if intent.Price != 0.5 || intent.Size != 0.1 || intent.Side != OrderSideBuy {
		t.Fatalf("unexpected intent: %+v", intent)
	}
	if intent.TokenID != "tok-1" {
		t.Fatalf("token id not bound: %+v", intent)
	}
}

func TestParseTradeIntentEmbeddedInProse(t *testing.T) {
	text := "Given the orderbook imbalance I would trade as follows:\nprice:0.55, size:0.2, side:BUY\nbecause the market underprices the outcome."
	intent, err := ParseTradeIntent(text, "tok-2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if intent.Price != 0.55 || intent.Size != 0.2 || intent.Side != OrderSideBuy {
		t.Fatalf("unexpected intent: %+v", intent)
	}
}

func TestParseTradeIntentSell(t *testing.T) {
	intent, err := ParseTradeIntent("price:0.72,size:0.05,side:SELL", "tok-3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if intent.Side != OrderSideSell {
		t.Fatalf("expected SELL, got %s", intent.Side)
	}
}

func TestParseTradeIntentNoGrammarMatch(t *testing.T) {
	_, err := ParseTradeIntent("I am not sure", "tok-4")
	if !errors.Is(err, ErrUnparsableForecast) {
		t.Fatalf("expected ErrUnparsableForecast, got %v", err)
	}
}

func TestTradeIntentBoundaries(t *testing.T) {
	tests := []struct {
		name   string
		intent TradeIntent
		ok     bool
	}{
		{"valid buy", TradeIntent{Side: OrderSideBuy, Price: 0.5, Size: 0.1}, true},
		{"size full balance", TradeIntent{Side: OrderSideBuy, Price: 0.5, Size: 1.0}, true},
		{"zero size", TradeIntent{Side: OrderSideBuy, Price: 0.5, Size: 0}, false},
		{"oversized", TradeIntent{Side: OrderSideBuy, Price: 0.5, Size: 1.01}, false},
		{"zero price", TradeIntent{Side: OrderSideBuy, Price: 0, Size: 0.1}, false},
		{"price at one", TradeIntent{Side: OrderSideBuy, Price: 1, Size: 0.1}, false},
		{"bad side", TradeIntent{Side: "HOLD", Price: 0.5, Size: 0.1}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.intent.Validate()
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected rejection, got nil")
			}
		})
	}
}
