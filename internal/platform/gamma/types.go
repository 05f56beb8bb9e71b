package gamma

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/polyseer/polyseer/internal/domain"
)

// The Gamma API is loose about types: booleans arrive as bool or "true",
// numbers as float or string, and list fields as JSON arrays or as strings
// containing JSON arrays. The flex types below accept every shape seen in
// the wild and remember when the fallback path fired, so callers can log
// which records needed normalizing.

// flexBool unmarshals from JSON bool or string ("true"/"false"/"1").
type flexBool struct {
	val     bool
	coerced bool
}

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		f.val = b
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	f.val = strings.EqualFold(s, "true") || s == "1"
	f.coerced = true
	return nil
}

// flexInt64 unmarshals from JSON number or numeric string.
type flexInt64 struct {
	val     int64
	coerced bool
}

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		f.val = n
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return fmt.Errorf("gamma: parse int %q: %w", s, err)
	}
	f.val = n
	f.coerced = true
	return nil
}

// flexFloat unmarshals from JSON number or numeric string.
type flexFloat struct {
	val     float64
	coerced bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		f.val = v
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	f.coerced = true
	if s == "" {
		f.val = 0
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("gamma: parse float %q: %w", s, err)
	}
	f.val = v
	return nil
}

// flexStrings unmarshals from a JSON array of strings or from a string that
// itself contains a JSON array, e.g. "[\"Yes\",\"No\"]".
type flexStrings struct {
	vals    []string
	coerced bool
}

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		f.vals = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	f.coerced = true
	if s == "" {
		f.vals = nil
		return nil
	}
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return fmt.Errorf("gamma: parse string list %q: %w", s, err)
	}
	f.vals = list
	return nil
}

// flexFloats unmarshals from a JSON array of numbers, an array of numeric
// strings, or a string containing either.
type flexFloats struct {
	vals    []float64
	coerced bool
}

func (f *flexFloats) UnmarshalJSON(data []byte) error {
	if vals, coerced, ok := parseFloatList(data); ok {
		f.vals = vals
		f.coerced = coerced
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	f.coerced = true
	if s == "" {
		f.vals = nil
		return nil
	}
	vals, _, ok := parseFloatList([]byte(s))
	if !ok {
		return fmt.Errorf("gamma: parse float list %q", s)
	}
	f.vals = vals
	return nil
}

// parseFloatList reports whether the data was a float list and whether the
// numbers arrived as strings.
func parseFloatList(data []byte) (vals []float64, coerced, ok bool) {
	var nums []float64
	if err := json.Unmarshal(data, &nums); err == nil {
		return nums, false, true
	}
	var strs []string
	if err := json.Unmarshal(data, &strs); err != nil {
		return nil, false, false
	}
	out := make([]float64, 0, len(strs))
	for _, s := range strs {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, false, false
		}
		out = append(out, v)
	}
	return out, true, true
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent is an event record as returned by the Gamma /events endpoint.
type APIEvent struct {
	ID          flexInt64   `json:"id"`
	Ticker      string      `json:"ticker"`
	Slug        string      `json:"slug"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Active      flexBool    `json:"active"`
	Closed      flexBool    `json:"closed"`
	Archived    flexBool    `json:"archived"`
	New         flexBool    `json:"new"`
	Featured    flexBool    `json:"featured"`
	Restricted  flexBool    `json:"restricted"`
	EndDate     string      `json:"endDate"`
	Markets     []APIMarket `json:"markets"`
}

// Coerced reports whether any field of the event, or of its nested markets,
// arrived in a fallback encoding.
func (e *APIEvent) Coerced() bool {
	if e.ID.coerced || e.Active.coerced || e.Closed.coerced || e.Archived.coerced ||
		e.New.coerced || e.Featured.coerced || e.Restricted.coerced {
		return true
	}
	for i := range e.Markets {
		if e.Markets[i].Coerced() {
			return true
		}
	}
	return false
}

// ToDomain converts an APIEvent to a domain.Event. An event with no usable
// ID is malformed.
func (e *APIEvent) ToDomain() (domain.Event, error) {
	if e.ID.val == 0 {
		return domain.Event{}, fmt.Errorf("gamma: event %q: %w: missing id", e.Slug, domain.ErrMalformedRecord)
	}

	ev := domain.Event{
		ID:          e.ID.val,
		Ticker:      e.Ticker,
		Slug:        e.Slug,
		Title:       e.Title,
		Description: e.Description,
		Active:      e.Active.val,
		Closed:      e.Closed.val,
		Archived:    e.Archived.val,
		New:         e.New.val,
		Featured:    e.Featured.val,
		Restricted:  e.Restricted.val,
	}

	if e.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, e.EndDate); err == nil {
			ev.EndDate = t
		}
	}

	for i := range e.Markets {
		if e.Markets[i].ID.val != 0 {
			ev.MarketIDs = append(ev.MarketIDs, e.Markets[i].ID.val)
		}
	}

	return ev, nil
}

// APIMarket is a market record as returned by the Gamma /markets endpoint.
type APIMarket struct {
	ID               flexInt64   `json:"id"`
	Question         string      `json:"question"`
	Description      string      `json:"description"`
	EndDate          string      `json:"endDate"`
	Active           flexBool    `json:"active"`
	Funded           flexBool    `json:"funded"`
	RewardsMinSize   flexFloat   `json:"rewardsMinSize"`
	RewardsMaxSpread flexFloat   `json:"rewardsMaxSpread"`
	Spread           flexFloat   `json:"spread"`
	Outcomes         flexStrings `json:"outcomes"`
	OutcomePrices    flexFloats  `json:"outcomePrices"`
	ClobTokenIDs     flexStrings `json:"clobTokenIds"`
}

// Coerced reports whether any field arrived in a fallback encoding.
func (m *APIMarket) Coerced() bool {
	return m.ID.coerced || m.Active.coerced || m.Funded.coerced ||
		m.RewardsMinSize.coerced || m.RewardsMaxSpread.coerced || m.Spread.coerced ||
		m.Outcomes.coerced || m.OutcomePrices.coerced || m.ClobTokenIDs.coerced
}

// ToDomain converts an APIMarket to a domain.Market, enforcing the outcome
// alignment invariant via Validate.
func (m *APIMarket) ToDomain() (domain.Market, error) {
	if m.ID.val == 0 {
		return domain.Market{}, fmt.Errorf("gamma: market %q: %w: missing id", m.Question, domain.ErrMalformedRecord)
	}

	dm := domain.Market{
		ID:               m.ID.val,
		Question:         m.Question,
		Description:      m.Description,
		Active:           m.Active.val,
		Funded:           m.Funded.val,
		RewardsMinSize:   m.RewardsMinSize.val,
		RewardsMaxSpread: m.RewardsMaxSpread.val,
		Spread:           m.Spread.val,
		Outcomes:         m.Outcomes.vals,
		OutcomePrices:    m.OutcomePrices.vals,
		ClobTokenIDs:     m.ClobTokenIDs.vals,
	}

	if m.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
			dm.EndDate = t
		}
	}

	if err := dm.Validate(); err != nil {
		return domain.Market{}, err
	}

	return dm, nil
}
