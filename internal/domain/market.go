package domain

import (
	"fmt"
	"time"
)

// Comparison is the resolution operator of a weather market.
type Comparison string

const (
	CompareGTE     Comparison = ">="
	CompareGT      Comparison = ">"
	CompareLTE     Comparison = "<="
	CompareLT      Comparison = "<"
	CompareBracket Comparison = "bracket"
)

// Valid reports whether c is one of the known operators.
func (c Comparison) Valid() bool {
	switch c {
	case CompareGTE, CompareGT, CompareLTE, CompareLT, CompareBracket:
		return true
	}
	return false
}

// Variable is the observed weather quantity a market resolves on.
type Variable string

const (
	VariableTempMax       Variable = "temperature_max"
	VariablePrecipitation Variable = "precipitation"
)

// Bracket is a value range. The zero value of the inclusivity flags
// is not usable directly; use NewBracket for the default [lo, hi).
type Bracket struct {
	Low         float64 `json:"low"`
	High        float64 `json:"high"`
	IncludeLow  bool    `json:"include_low"`
	IncludeHigh bool    `json:"include_high"`
}

// NewBracket returns the half-open range [lo, hi).
func NewBracket(lo, hi float64) Bracket {
	return Bracket{Low: lo, High: hi, IncludeLow: true}
}

// Contains reports whether v falls inside the bracket.
func (b Bracket) Contains(v float64) bool {
	if v < b.Low || (v == b.Low && !b.IncludeLow) {
		return false
	}
	if v > b.High || (v == b.High && !b.IncludeHigh) {
		return false
	}
	return true
}

// MarketCriteria is a parsed, resolvable weather market.
// Comparison == CompareBracket selects the Bracket variant; any other
// operator selects the Threshold variant.
type MarketCriteria struct {
	ID         string     `json:"id"`
	Question   string     `json:"question"`
	Location   string     `json:"location"`
	Cluster    string     `json:"cluster,omitempty"`
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	Timezone   string     `json:"timezone,omitempty"`
	Resolution time.Time  `json:"resolution"`
	Variable   Variable   `json:"variable"`
	Comparison Comparison `json:"comparison"`
	Threshold  float64    `json:"threshold"`
	Bracket    Bracket    `json:"bracket"`
	Unit       Unit       `json:"unit"`
	Liquidity  float64    `json:"liquidity"`
	Volume     float64    `json:"volume"`
	YesTokenID string     `json:"yes_token_id"`
	NoTokenID  string     `json:"no_token_id"`
}

// Validate checks the structural invariants of the criteria.
func (m MarketCriteria) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: missing market id", ErrParseFailure)
	}
	if !m.Comparison.Valid() {
		return fmt.Errorf("%w: unknown comparison %q", ErrParseFailure, m.Comparison)
	}
	if m.Comparison == CompareBracket && m.Bracket.High <= m.Bracket.Low {
		return fmt.Errorf("%w: empty bracket [%g, %g)", ErrParseFailure, m.Bracket.Low, m.Bracket.High)
	}
	if m.Liquidity < 0 {
		return fmt.Errorf("%w: negative liquidity", ErrParseFailure)
	}
	if m.Resolution.IsZero() {
		return fmt.Errorf("%w: missing resolution time", ErrParseFailure)
	}
	return nil
}

// HoursToResolution returns hours from now until the market resolves.
func (m MarketCriteria) HoursToResolution(now time.Time) float64 {
	return m.Resolution.Sub(now).Hours()
}

// Active reports whether the market has not resolved yet.
func (m MarketCriteria) Active(now time.Time) bool {
	return m.Resolution.After(now)
}

// ResolutionDate is the calendar date key used for same-day exposure.
func (m MarketCriteria) ResolutionDate() string {
	return DateKey(m.Resolution)
}

// TokenFor returns the outcome token bought for the given side.
func (m MarketCriteria) TokenFor(side Side) string {
	if side == SideNo {
		return m.NoTokenID
	}
	return m.YesTokenID
}

// DateKey formats t as the YYYY-MM-DD key used across the ledger.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
