package domain

import "time"

// Event groups one or more related markets on the Gamma API. An Event is an
// immutable snapshot for the duration of a single pipeline run; it is never
// persisted beyond the run.
type Event struct {
	ID          int64
	Ticker      string
	Slug        string
	Title       string
	Description string
	Active      bool
	Closed      bool
	Archived    bool
	Restricted  bool
	New         bool
	Featured    bool
	EndDate     time.Time
	MarketIDs   []int64
}

// Tradeable reports whether the event accepts orders: it must be active and
// neither restricted, archived, nor closed.
func (e Event) Tradeable() bool {
	return e.Active && !e.Restricted && !e.Archived && !e.Closed
}
