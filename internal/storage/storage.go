// Package storage defines the credential and ledger store used by the
// services, independent of the SQL driver behind it.
package storage

import (
	"context"
	"errors"

	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/domain/models"
	"github.com/shopspring/decimal"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrUserNotFound = errors.New("user not found")
)

type Storage interface {
	// SaveUser creates a user with the given starting cash and returns its id.
	// Returns ErrUserExists if the username is taken.
	SaveUser(ctx context.Context, username string, passHash []byte, cash decimal.Decimal) (int64, error)

	// User looks a user up by username. Returns ErrUserNotFound if absent.
	User(ctx context.Context, username string) (models.User, error)

	// UserByID looks a user up by id. Returns ErrUserNotFound if absent.
	UserByID(ctx context.Context, id int64) (models.User, error)

	// Holdings returns the open holdings (share sum > 0) of a user ordered
	// by symbol.
	Holdings(ctx context.Context, userID int64) ([]models.Holding, error)

	// Transactions returns the full ledger of a user in creation order.
	Transactions(ctx context.Context, userID int64) ([]models.Transaction, error)

	// Atomically runs fn in a transaction that holds an exclusive lock on
	// the user's row. The transaction commits only if fn returns nil.
	// Returns ErrUserNotFound if the user does not exist.
	Atomically(ctx context.Context, userID int64, fn func(ctx context.Context, tx Tx) error) error

	Stop() error
}

// Tx is the view of one user's account inside Storage.Atomically.
type Tx interface {
	Cash(ctx context.Context) (decimal.Decimal, error)
	Holding(ctx context.Context, symbol string) (int64, error)
	AddCash(ctx context.Context, delta decimal.Decimal) error
	AppendTransaction(ctx context.Context, symbol string, shares int64, price decimal.Decimal) (models.Transaction, error)
}
