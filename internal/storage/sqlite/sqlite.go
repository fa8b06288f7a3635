// Package sqlite provides a SQLite-backed implementation of storage.Storage,
// used for local runs and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/shopspring/decimal"
	msqlite "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/domain/models"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/storage"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/migrations"
)

// Ensure Storage implements storage.Storage
var _ storage.Storage = (*Storage)(nil)

// Storage implements storage.Storage using SQLite.
type Storage struct {
	db *sql.DB
}

// New opens the database at dbPath, creating parent directories and
// applying migrations first.
//
// Transactions are started with BEGIN IMMEDIATE so that Atomically holds the
// write lock from its first statement; competing writers wait on busy_timeout.
func New(dbPath string) (*Storage, error) {
	const op = "storage.sqlite.New"

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("%s: failed to create database directory: %w", op, err)
	}

	if err := Migrate(dbPath); err != nil {
		return nil, err
	}

	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open database: %w", op, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db}, nil
}

// Migrate applies the embedded migrations to the database file at dbPath.
func Migrate(dbPath string) error {
	const op = "storage.sqlite.Migrate"

	src, err := migrations.FS("sqlite")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	driver, err := iofs.New(src, ".")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", driver, "sqlite://"+dbPath)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) Stop() error {
	return s.db.Close()
}

func (s *Storage) SaveUser(ctx context.Context, username string, passHash []byte, cash decimal.Decimal) (int64, error) {
	const op = "storage.sqlite.SaveUser"

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, password_hash, cash, created_at) VALUES (?, ?, ?, ?)",
		username, string(passHash), cash.String(), time.Now().UnixMilli(),
	)
	if err != nil {
		var sqliteErr *msqlite.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (s *Storage) User(ctx context.Context, username string) (models.User, error) {
	const op = "storage.sqlite.User"

	user, err := scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, cash, created_at FROM users WHERE username = ?",
		username,
	))
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) UserByID(ctx context.Context, id int64) (models.User, error) {
	const op = "storage.sqlite.UserByID"

	user, err := scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, cash, created_at FROM users WHERE id = ?",
		id,
	))
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func scanUser(row *sql.Row) (models.User, error) {
	var (
		user    models.User
		created int64
	)
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Cash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, storage.ErrUserNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	user.CreatedAt = time.UnixMilli(created).UTC()
	return user, nil
}

func (s *Storage) Holdings(ctx context.Context, userID int64) ([]models.Holding, error) {
	const op = "storage.sqlite.Holdings"

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.symbol, SUM(t.shares),
		       (SELECT l.price FROM transactions l
		         WHERE l.user_id = ? AND l.symbol = t.symbol
		         ORDER BY l.id DESC LIMIT 1)
		FROM transactions t
		WHERE t.user_id = ?
		GROUP BY t.symbol
		HAVING SUM(t.shares) > 0
		ORDER BY t.symbol`,
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var holdings []models.Holding
	for rows.Next() {
		var h models.Holding
		if err := rows.Scan(&h.Symbol, &h.Shares, &h.LastPrice); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return holdings, nil
}

func (s *Storage) Transactions(ctx context.Context, userID int64) ([]models.Transaction, error) {
	const op = "storage.sqlite.Transactions"

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, symbol, shares, price, transacted_at FROM transactions WHERE user_id = ? ORDER BY id",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var transactions []models.Transaction
	for rows.Next() {
		var (
			t  models.Transaction
			at int64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &t.Shares, &t.Price, &at); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		t.TransactedAt = time.UnixMilli(at).UTC()
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return transactions, nil
}

func (s *Storage) Atomically(ctx context.Context, userID int64, fn func(ctx context.Context, tx storage.Tx) error) error {
	const op = "storage.sqlite.Atomically"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	var found int64
	err = tx.QueryRowContext(ctx, "SELECT id FROM users WHERE id = ?", userID).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := fn(ctx, &userTx{tx: tx, userID: userID}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

type userTx struct {
	tx     *sql.Tx
	userID int64
}

func (u *userTx) Cash(ctx context.Context) (decimal.Decimal, error) {
	const op = "storage.sqlite.Cash"

	var cash decimal.Decimal
	if err := u.tx.QueryRowContext(ctx, "SELECT cash FROM users WHERE id = ?", u.userID).Scan(&cash); err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", op, err)
	}

	return cash, nil
}

func (u *userTx) Holding(ctx context.Context, symbol string) (int64, error) {
	const op = "storage.sqlite.Holding"

	var shares int64
	err := u.tx.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(shares), 0) FROM transactions WHERE user_id = ? AND symbol = ?",
		u.userID, symbol,
	).Scan(&shares)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return shares, nil
}

// AddCash does the arithmetic in Go: SQLite has no exact decimal type and
// cash is stored as text.
func (u *userTx) AddCash(ctx context.Context, delta decimal.Decimal) error {
	const op = "storage.sqlite.AddCash"

	cash, err := u.Cash(ctx)
	if err != nil {
		return err
	}

	if _, err := u.tx.ExecContext(ctx, "UPDATE users SET cash = ? WHERE id = ?", cash.Add(delta).String(), u.userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (u *userTx) AppendTransaction(ctx context.Context, symbol string, shares int64, price decimal.Decimal) (models.Transaction, error) {
	const op = "storage.sqlite.AppendTransaction"

	now := time.Now().UTC()
	res, err := u.tx.ExecContext(ctx,
		"INSERT INTO transactions (user_id, symbol, shares, price, transacted_at) VALUES (?, ?, ?, ?, ?)",
		u.userID, symbol, shares, price.String(), now.UnixMilli(),
	)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("%s: %w", op, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return models.Transaction{}, fmt.Errorf("%s: %w", op, err)
	}

	return models.Transaction{
		ID:           id,
		UserID:       u.userID,
		Symbol:       symbol,
		Shares:       shares,
		Price:        price,
		TransactedAt: now.Truncate(time.Millisecond),
	}, nil
}
