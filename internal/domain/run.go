package domain

import "time"

// RunOutcome classifies how a pipeline run ended.
type RunOutcome string

const (
	RunOutcomeTraded  RunOutcome = "traded"
	RunOutcomeNoTrade RunOutcome = "no_trade"
	RunOutcomeError   RunOutcome = "error"
)

// RunReport summarizes one pipeline run: per-stage counts plus the final
// outcome. The counts exist so an operator can reconstruct which stage
// thinned the candidate set to zero.
type RunReport struct {
	RunID          string
	Attempt        int
	Outcome        RunOutcome
	EventsFound    int
	EventsSelected int
	MarketsFound   int
	MarketsRanked  int
	MarketID       int64
	TokenID        string
	Side           OrderSide
	Amount         float64
	OrderID        string
	Reason         string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// OrderRecord is the persisted form of a submitted order.
type OrderRecord struct {
	ID          string
	RunID       string
	MarketID    int64
	TokenID     string
	Side        OrderSide
	Price       float64
	Amount      float64
	Nonce       string
	ExchangeID  string
	Status      string
	Signature   string
	SubmittedAt time.Time
}
