package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the latest known price for a ticker. Superseded by newer
// fetches, never mutated.
type Quote struct {
	Ticker   string          `json:"ticker"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	AsOf     time.Time       `json:"asOf"`
}

// FXRate converts 1 unit of Base into Quote.
type FXRate struct {
	Base  string          `json:"base"`
	Quote string          `json:"quote"`
	Rate  decimal.Decimal `json:"rate"`
	AsOf  time.Time       `json:"asOf"`
}

type CurrencyPair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

func (p CurrencyPair) String() string {
	return p.Base + p.Quote
}

type PricePoint struct {
	Date  time.Time `json:"date"`
	Price float64   `json:"price"`
}

// PriceSeries holds daily closes, chronologically ascending with no
// duplicate dates.
type PriceSeries struct {
	Ticker string       `json:"ticker"`
	Points []PricePoint `json:"points"`
}
