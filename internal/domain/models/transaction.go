package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one immutable ledger row. Shares is positive for a buy and
// negative for a sell; Price is the price at execution time.
type Transaction struct {
	ID           int64           `json:"id"`
	UserID       int64           `json:"user_id"`
	Symbol       string          `json:"symbol"`
	Shares       int64           `json:"shares"`
	Price        decimal.Decimal `json:"price"`
	TransactedAt time.Time       `json:"transacted_at"`
}

// IsBuy reports whether the row records a purchase.
func (t Transaction) IsBuy() bool {
	return t.Shares > 0
}

// Amount is the absolute cash moved by the transaction.
func (t Transaction) Amount() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Shares)).Abs()
}
