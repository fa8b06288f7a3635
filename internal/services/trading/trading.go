// Package trading executes orders against a user's cash and ledger and
// derives the portfolio and history views from the ledger.
//
// Every mutation runs its read-check-write sequence inside one per-user
// atomic scope of the store, so a rejected order leaves both the balance and
// the ledger untouched and two concurrent orders of the same user can never
// both pass the same affordability or holdings check.
package trading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/domain/models"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/lib/validate"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/pricing"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/storage"
)

// MaxShares bounds both a single order and a holding in one symbol, so
// ledger sums stay far inside the range of the shares column.
const MaxShares = math.MaxInt32

// MaxDeposit is the largest amount accepted by one DepositCash call.
var MaxDeposit = decimal.NewFromInt(1_000_000_000)

var (
	ErrInvalidInput         = validate.ErrInvalid
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
)

// Store is the part of storage.Storage the engine needs.
type Store interface {
	UserByID(ctx context.Context, id int64) (models.User, error)
	Holdings(ctx context.Context, userID int64) ([]models.Holding, error)
	Transactions(ctx context.Context, userID int64) ([]models.Transaction, error)
	Atomically(ctx context.Context, userID int64, fn func(ctx context.Context, tx storage.Tx) error) error
}

// Order is a validated-at-the-boundary buy or sell request.
type Order struct {
	Symbol string
	Shares int64
}

func (o Order) normalize() (Order, error) {
	o.Symbol = normalizeSymbol(o.Symbol)
	if o.Symbol == "" {
		return Order{}, validate.Missing("symbol")
	}
	if o.Shares <= 0 {
		return Order{}, validate.Invalid("shares", "Invalid input for number of shares")
	}
	if o.Shares > MaxShares {
		return Order{}, validate.Invalid("shares", "Too many shares in one order")
	}
	return o, nil
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

type Engine struct {
	storage Store
	gateway pricing.Gateway
	logger  *slog.Logger
}

func New(storage Store, gateway pricing.Gateway, logger *slog.Logger) *Engine {
	return &Engine{
		storage: storage,
		gateway: gateway,
		logger:  logger,
	}
}

func (e *Engine) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	const op = "services.trading.Quote"

	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return models.Quote{}, validate.Missing("symbol")
	}

	quote, err := e.gateway.Lookup(ctx, symbol)
	if err != nil {
		return models.Quote{}, fmt.Errorf("%s: %w", op, err)
	}

	return quote, nil
}

// Buy debits shares x price from the user's cash and records the purchase.
func (e *Engine) Buy(ctx context.Context, userID int64, order Order) (models.Transaction, error) {
	const op = "services.trading.Buy"

	order, err := order.normalize()
	if err != nil {
		return models.Transaction{}, err
	}

	quote, err := e.gateway.Lookup(ctx, order.Symbol)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("%s: %w", op, err)
	}

	cost := quote.Price.Mul(decimal.NewFromInt(order.Shares))

	var recorded models.Transaction
	err = e.storage.Atomically(ctx, userID, func(ctx context.Context, tx storage.Tx) error {
		cash, err := tx.Cash(ctx)
		if err != nil {
			return err
		}
		if cash.Sub(cost).IsNegative() {
			return fmt.Errorf("%w: cost %s, cash %s", ErrInsufficientFunds, cost, cash)
		}

		held, err := tx.Holding(ctx, quote.Symbol)
		if err != nil {
			return err
		}
		if held+order.Shares > MaxShares {
			return validate.Invalid("shares", "Too many shares of one symbol")
		}

		if err := tx.AddCash(ctx, cost.Neg()); err != nil {
			return err
		}

		recorded, err = tx.AppendTransaction(ctx, quote.Symbol, order.Shares, quote.Price)
		return err
	})
	if err != nil {
		return models.Transaction{}, fmt.Errorf("%s: %w", op, err)
	}

	e.logger.Info("Bought",
		slog.Int64("user_id", userID),
		slog.String("symbol", recorded.Symbol),
		slog.Int64("shares", recorded.Shares),
		slog.String("price", recorded.Price.String()),
	)

	return recorded, nil
}

// Sell credits shares x price to the user's cash and records the sale as a
// negative share count. Selling more than is held, including a symbol that
// was never bought, is rejected.
func (e *Engine) Sell(ctx context.Context, userID int64, order Order) (models.Transaction, error) {
	const op = "services.trading.Sell"

	order, err := order.normalize()
	if err != nil {
		return models.Transaction{}, err
	}

	quote, err := e.gateway.Lookup(ctx, order.Symbol)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("%s: %w", op, err)
	}

	proceeds := quote.Price.Mul(decimal.NewFromInt(order.Shares))

	var recorded models.Transaction
	err = e.storage.Atomically(ctx, userID, func(ctx context.Context, tx storage.Tx) error {
		held, err := tx.Holding(ctx, quote.Symbol)
		if err != nil {
			return err
		}
		if order.Shares > held {
			return fmt.Errorf("%w: selling %d %s, holding %d", ErrInsufficientHoldings, order.Shares, quote.Symbol, held)
		}

		if err := tx.AddCash(ctx, proceeds); err != nil {
			return err
		}

		recorded, err = tx.AppendTransaction(ctx, quote.Symbol, -order.Shares, quote.Price)
		return err
	})
	if err != nil {
		return models.Transaction{}, fmt.Errorf("%s: %w", op, err)
	}

	e.logger.Info("Sold",
		slog.Int64("user_id", userID),
		slog.String("symbol", recorded.Symbol),
		slog.Int64("shares", -recorded.Shares),
		slog.String("price", recorded.Price.String()),
	)

	return recorded, nil
}

// Portfolio values every open holding at its live price, ordered by symbol.
// A symbol the gateway no longer knows is valued at its last traded price
// and marked stale; an unreachable gateway fails the whole view.
//
// Holdings and cash are read outside an atomic scope, so a trade committing
// in between may be reflected in one but not the other.
func (e *Engine) Portfolio(ctx context.Context, userID int64) (models.Portfolio, error) {
	const op = "services.trading.Portfolio"

	user, err := e.storage.UserByID(ctx, userID)
	if err != nil {
		return models.Portfolio{}, fmt.Errorf("%s: %w", op, err)
	}

	holdings, err := e.storage.Holdings(ctx, userID)
	if err != nil {
		return models.Portfolio{}, fmt.Errorf("%s: %w", op, err)
	}

	portfolio := models.Portfolio{
		Positions: make([]models.Position, 0, len(holdings)),
		Cash:      user.Cash,
		Total:     user.Cash,
	}

	for _, h := range holdings {
		if h.Shares <= 0 {
			continue
		}

		position := models.Position{Symbol: h.Symbol, Name: h.Symbol, Shares: h.Shares}

		quote, err := e.gateway.Lookup(ctx, h.Symbol)
		switch {
		case err == nil:
			position.Name = quote.Name
			position.Price = quote.Price
		case errors.Is(err, pricing.ErrUnknownSymbol):
			e.logger.Warn("No live quote for held symbol", slog.String("symbol", h.Symbol))
			position.Price = h.LastPrice
			position.Stale = true
		default:
			return models.Portfolio{}, fmt.Errorf("%s: %w", op, err)
		}

		position.Value = position.Price.Mul(decimal.NewFromInt(h.Shares))
		portfolio.Total = portfolio.Total.Add(position.Value)
		portfolio.Positions = append(portfolio.Positions, position)
	}

	return portfolio, nil
}

// History returns the user's ledger in creation order with the prices
// recorded at execution time.
func (e *Engine) History(ctx context.Context, userID int64) ([]models.Transaction, error) {
	const op = "services.trading.History"

	transactions, err := e.storage.Transactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return transactions, nil
}

// DepositCash adds amount to the user's cash outside of the ledger and
// returns the new balance.
func (e *Engine) DepositCash(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	const op = "services.trading.DepositCash"

	if !amount.IsPositive() {
		return decimal.Zero, validate.Invalid("cash", "Amount must be a positive number")
	}
	if amount.GreaterThan(MaxDeposit) {
		return decimal.Zero, validate.Invalid("cash", "Amount is too large")
	}

	var balance decimal.Decimal
	err := e.storage.Atomically(ctx, userID, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.AddCash(ctx, amount); err != nil {
			return err
		}
		var err error
		balance, err = tx.Cash(ctx)
		return err
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", op, err)
	}

	e.logger.Info("Cash deposited", slog.Int64("user_id", userID), slog.String("amount", amount.String()))

	return balance, nil
}

// OwnedSymbols lists the symbols the user can sell.
func (e *Engine) OwnedSymbols(ctx context.Context, userID int64) ([]string, error) {
	const op = "services.trading.OwnedSymbols"

	holdings, err := e.storage.Holdings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	symbols := make([]string, 0, len(holdings))
	for _, h := range holdings {
		symbols = append(symbols, h.Symbol)
	}

	return symbols, nil
}
