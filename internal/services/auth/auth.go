// Package auth registers users and maps credentials to sessions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/domain/models"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/lib/validate"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/session"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/storage"
)

var (
	ErrValidation         = validate.ErrInvalid
	ErrUsernameTaken      = errors.New("username taken")
	ErrInvalidCredentials = errors.New("invalid username and/or password")
)

// UserStorage is the part of storage.Storage the service needs.
type UserStorage interface {
	SaveUser(ctx context.Context, username string, passHash []byte, cash decimal.Decimal) (int64, error)
	User(ctx context.Context, username string) (models.User, error)
}

type Service struct {
	storage      UserStorage
	sessions     *session.Manager
	startingCash decimal.Decimal
	hashCost     int
	logger       *slog.Logger
}

func New(storage UserStorage, sessions *session.Manager, startingCash decimal.Decimal, logger *slog.Logger) *Service {
	return &Service{
		storage:      storage,
		sessions:     sessions,
		startingCash: startingCash,
		hashCost:     bcrypt.DefaultCost,
		logger:       logger,
	}
}

// Register creates the user with the starting cash balance and logs them in.
func (s *Service) Register(ctx context.Context, username, password, confirmation string) (models.User, string, error) {
	const op = "services.auth.Register"

	username = strings.TrimSpace(username)
	if err := validate.Required(
		"username", username,
		"password", password,
		"confirmation", confirmation,
	); err != nil {
		return models.User{}, "", err
	}
	if password != confirmation {
		return models.User{}, "", validate.Invalid("confirmation", "The passwords do not match")
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return models.User{}, "", validate.Invalid("password", "password must be at most 72 bytes")
	}
	if err != nil {
		return models.User{}, "", fmt.Errorf("%s: %w", op, err)
	}

	id, err := s.storage.SaveUser(ctx, username, passHash, s.startingCash)
	if errors.Is(err, storage.ErrUserExists) {
		return models.User{}, "", ErrUsernameTaken
	}
	if err != nil {
		return models.User{}, "", fmt.Errorf("%s: %w", op, err)
	}

	s.logger.Info("Register new user", slog.String("username", username), slog.Int64("user_id", id))

	user := models.User{
		ID:           id,
		Username:     username,
		PasswordHash: string(passHash),
		Cash:         s.startingCash,
	}

	token, err := s.sessions.Create(ctx, user.ID, user.Username)
	if err != nil {
		return models.User{}, "", fmt.Errorf("%s: %w", op, err)
	}

	return user, token, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (models.User, string, error) {
	const op = "services.auth.Login"

	username = strings.TrimSpace(username)
	if err := validate.Required("username", username, "password", password); err != nil {
		return models.User{}, "", err
	}

	user, err := s.storage.User(ctx, username)
	if errors.Is(err, storage.ErrUserNotFound) {
		return models.User{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return models.User{}, "", fmt.Errorf("%s: %w", op, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Debug("Password mismatch", slog.String("username", username))
		return models.User{}, "", ErrInvalidCredentials
	}

	token, err := s.sessions.Create(ctx, user.ID, user.Username)
	if err != nil {
		return models.User{}, "", fmt.Errorf("%s: %w", op, err)
	}

	return user, token, nil
}

// Logout revokes the session behind token. It is safe to call repeatedly
// and with an empty token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Destroy(ctx, token)
}

// RequireSession resolves the acting user or fails with
// session.ErrUnauthenticated.
func (s *Service) RequireSession(ctx context.Context, token string) (session.Identity, error) {
	return s.sessions.Resolve(ctx, token)
}
