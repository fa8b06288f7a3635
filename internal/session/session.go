// Package session keeps track of logged-in users. A session is a signed
// token naming a server-side record; revoking the record logs the user out
// even while the token itself has not expired.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/lib/jwt"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotFound        = errors.New("session not found")
)

// Store persists session records with an expiry.
type Store interface {
	Save(ctx context.Context, id string, userID int64, ttl time.Duration) error
	// Load returns ErrNotFound for unknown or expired sessions.
	Load(ctx context.Context, id string) (int64, error)
	// Delete is a no-op for unknown sessions.
	Delete(ctx context.Context, id string) error
}

// Identity is the acting user resolved from a session.
type Identity struct {
	UserID    int64
	Username  string
	SessionID string
}

type Manager struct {
	store  Store
	secret string
	ttl    time.Duration
	logger *slog.Logger
}

func NewManager(store Store, secret string, ttl time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		secret: secret,
		ttl:    ttl,
		logger: logger,
	}
}

// TTL is how long a new session stays valid.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Create starts a session for the user and returns its token.
func (m *Manager) Create(ctx context.Context, userID int64, username string) (string, error) {
	const op = "session.Manager.Create"

	id := uuid.NewString()
	if err := m.store.Save(ctx, id, userID, m.ttl); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	token, err := jwt.NewToken(userID, username, id, m.secret, m.ttl)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	m.logger.Debug("Session created", slog.Int64("user_id", userID), slog.String("session_id", id))

	return token, nil
}

// Resolve returns the identity behind token, or ErrUnauthenticated when the
// token is missing, malformed, expired or revoked.
func (m *Manager) Resolve(ctx context.Context, token string) (Identity, error) {
	const op = "session.Manager.Resolve"

	if token == "" {
		return Identity{}, ErrUnauthenticated
	}

	claims, err := jwt.ParseToken(token, m.secret)
	if err != nil {
		return Identity{}, fmt.Errorf("%s: %w: %v", op, ErrUnauthenticated, err)
	}

	userID, err := claims.UserID()
	if err != nil {
		return Identity{}, fmt.Errorf("%s: %w: bad subject", op, ErrUnauthenticated)
	}

	stored, err := m.store.Load(ctx, claims.ID)
	if errors.Is(err, ErrNotFound) {
		return Identity{}, fmt.Errorf("%s: %w: session revoked", op, ErrUnauthenticated)
	}
	if err != nil {
		return Identity{}, fmt.Errorf("%s: %w", op, err)
	}
	if stored != userID {
		return Identity{}, fmt.Errorf("%s: %w: session owner mismatch", op, ErrUnauthenticated)
	}

	return Identity{UserID: userID, Username: claims.Username, SessionID: claims.ID}, nil
}

// Destroy revokes the session behind token. Tokens that are empty, invalid
// or already expired are ignored.
func (m *Manager) Destroy(ctx context.Context, token string) error {
	const op = "session.Manager.Destroy"

	if token == "" {
		return nil
	}

	claims, err := jwt.ParseToken(token, m.secret)
	if err != nil {
		return nil
	}

	if err := m.store.Delete(ctx, claims.ID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	m.logger.Debug("Session destroyed", slog.String("session_id", claims.ID))

	return nil
}
