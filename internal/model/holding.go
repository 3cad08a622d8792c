package model

import "github.com/shopspring/decimal"

// Holding is a normalized portfolio position. Immutable once loaded,
// exactly one per distinct ticker.
type Holding struct {
	Ticker       string
	Shares       decimal.Decimal
	AvgCost      decimal.Decimal
	CostCurrency string
}
