package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/domain/models"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/storage"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/migrations"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

var _ storage.Storage = (*Storage)(nil)

type Storage struct {
	db *sql.DB
}

func New(dbUrl string) (*Storage, error) {
	db, err := sql.Open("postgres", dbUrl)
	if err != nil {
		return nil, fmt.Errorf("database connection error %s", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect database error %s", err)
	}

	return &Storage{db: db}, nil
}

// Migrate applies the embedded migrations to the database at dbUrl.
func Migrate(dbUrl string) error {
	const op = "storage.postgres.Migrate"

	src, err := migrations.FS("postgres")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	driver, err := iofs.New(src, ".")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", driver, dbUrl)
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
	const op = "storage.postgres.SaveUser"

	var id int64
	err := s.db.QueryRowContext(ctx,
		"INSERT INTO users (username, password_hash, cash) VALUES ($1, $2, $3) RETURNING id",
		username, string(passHash), cash,
	).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (s *Storage) User(ctx context.Context, username string) (models.User, error) {
	const op = "storage.postgres.User"

	user, err := scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, cash, created_at FROM users WHERE username = $1",
		username,
	))
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) UserByID(ctx context.Context, id int64) (models.User, error) {
	const op = "storage.postgres.UserByID"

	user, err := scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, cash, created_at FROM users WHERE id = $1",
		id,
	))
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func scanUser(row *sql.Row) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Cash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, storage.ErrUserNotFound
	}
	return user, err
}

func (s *Storage) Holdings(ctx context.Context, userID int64) ([]models.Holding, error) {
	const op = "storage.postgres.Holdings"

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.symbol, SUM(t.shares),
		       (SELECT l.price FROM transactions l
		         WHERE l.user_id = $1 AND l.symbol = t.symbol
		         ORDER BY l.id DESC LIMIT 1)
		FROM transactions t
		WHERE t.user_id = $1
		GROUP BY t.symbol
		HAVING SUM(t.shares) > 0
		ORDER BY t.symbol`,
		userID,
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
	const op = "storage.postgres.Transactions"

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, symbol, shares, price, transacted_at FROM transactions WHERE user_id = $1 ORDER BY id",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var transactions []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &t.Shares, &t.Price, &t.TransactedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return transactions, nil
}

// Atomically locks the user's row with SELECT ... FOR UPDATE for the
// duration of fn, so concurrent orders of one user run one after another.
func (s *Storage) Atomically(ctx context.Context, userID int64, fn func(ctx context.Context, tx storage.Tx) error) error {
	const op = "storage.postgres.Atomically"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	var locked int64
	err = tx.QueryRowContext(ctx, "SELECT id FROM users WHERE id = $1 FOR UPDATE", userID).Scan(&locked)
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
	const op = "storage.postgres.Cash"

	var cash decimal.Decimal
	if err := u.tx.QueryRowContext(ctx, "SELECT cash FROM users WHERE id = $1", u.userID).Scan(&cash); err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", op, err)
	}

	return cash, nil
}

func (u *userTx) Holding(ctx context.Context, symbol string) (int64, error) {
	const op = "storage.postgres.Holding"

	var shares int64
	err := u.tx.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(shares), 0) FROM transactions WHERE user_id = $1 AND symbol = $2",
		u.userID, symbol,
	).Scan(&shares)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return shares, nil
}

func (u *userTx) AddCash(ctx context.Context, delta decimal.Decimal) error {
	const op = "storage.postgres.AddCash"

	if _, err := u.tx.ExecContext(ctx, "UPDATE users SET cash = cash + $1 WHERE id = $2", delta, u.userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (u *userTx) AppendTransaction(ctx context.Context, symbol string, shares int64, price decimal.Decimal) (models.Transaction, error) {
	const op = "storage.postgres.AppendTransaction"

	t := models.Transaction{UserID: u.userID, Symbol: symbol, Shares: shares, Price: price}
	err := u.tx.QueryRowContext(ctx,
		"INSERT INTO transactions (user_id, symbol, shares, price) VALUES ($1, $2, $3, $4) RETURNING id, transacted_at",
		u.userID, symbol, shares, price,
	).Scan(&t.ID, &t.TransactedAt)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("%s: %w", op, err)
	}

	return t, nil
}
