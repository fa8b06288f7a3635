package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/domain/models"
)

const keyPrefix = "quote:"

// Compile-time check to ensure Cache implements Gateway
var _ Gateway = (*Cache)(nil)

// Cache is a read-through Redis cache in front of another Gateway. Only
// successful lookups are cached. Redis failures are logged and the
// underlying gateway is queried directly.
type Cache struct {
	next   Gateway
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCache(next Gateway, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *Cache) Lookup(ctx context.Context, symbol string) (models.Quote, error) {
	key := keyPrefix + symbol

	payload, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var quote models.Quote
		if err := json.Unmarshal(payload, &quote); err == nil {
			return quote, nil
		}
		c.logger.Warn("Dropping malformed cached quote", slog.String("symbol", symbol))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("Quote cache read failed", slog.String("symbol", symbol), slog.String("error", err.Error()))
	}

	quote, err := c.next.Lookup(ctx, symbol)
	if err != nil {
		return models.Quote{}, err
	}

	payload, err = json.Marshal(quote)
	if err == nil {
		err = c.client.Set(ctx, key, payload, c.ttl).Err()
	}
	if err != nil {
		c.logger.Warn("Quote cache write failed", slog.String("symbol", symbol), slog.String("error", err.Error()))
	}

	return quote, nil
}
