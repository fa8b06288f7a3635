package models

import "github.com/shopspring/decimal"

// Holding is the ledger sum of shares for one symbol, together with the
// price of the most recent transaction in that symbol.
type Holding struct {
	Symbol    string
	Shares    int64
	LastPrice decimal.Decimal
}

// Position is an open holding valued at the current market price.
type Position struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"name"`
	Shares int64           `json:"shares"`
	Price  decimal.Decimal `json:"price"`
	Value  decimal.Decimal `json:"value"`
	// Stale is set when no live quote was available and Price is the last
	// traded price from the ledger.
	Stale bool `json:"stale,omitempty"`
}

type Portfolio struct {
	Positions []Position      `json:"positions"`
	Cash      decimal.Decimal `json:"cash"`
	Total     decimal.Decimal `json:"total"`
}
