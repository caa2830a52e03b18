package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	redispkg "github.com/angelmondragon/storefront-checkout/pkg/redis"
)

// ErrCheckoutNotFound is returned when the user has no live checkout.
var ErrCheckoutNotFound = errors.New("checkout not found")

type kvStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	CheckoutKey(userID string) string
}

// Store persists one live checkout per user.
type Store interface {
	Save(ctx context.Context, checkout *Checkout, ttl time.Duration) error
	Load(ctx context.Context, userID uuid.UUID) (*Checkout, error)
	Delete(ctx context.Context, userID uuid.UUID) error
}

// RedisStore keeps checkouts as JSON values whose expiry redis enforces.
type RedisStore struct {
	kv kvStore
}

func NewRedisStore(kv kvStore) *RedisStore {
	return &RedisStore{kv: kv}
}

// Save replaces the user's checkout and resets its TTL.
func (s *RedisStore) Save(ctx context.Context, checkout *Checkout, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("checkout ttl must be positive")
	}
	payload, err := json.Marshal(checkout)
	if err != nil {
		return fmt.Errorf("encode checkout: %w", err)
	}
	return s.kv.Set(ctx, s.kv.CheckoutKey(checkout.UserID.String()), string(payload), ttl)
}

func (s *RedisStore) Load(ctx context.Context, userID uuid.UUID) (*Checkout, error) {
	raw, err := s.kv.Get(ctx, s.kv.CheckoutKey(userID.String()))
	if errors.Is(err, redispkg.ErrNil) {
		return nil, ErrCheckoutNotFound
	}
	if err != nil {
		return nil, err
	}
	var checkout Checkout
	if err := json.Unmarshal([]byte(raw), &checkout); err != nil {
		return nil, fmt.Errorf("decode checkout: %w", err)
	}
	return &checkout, nil
}

func (s *RedisStore) Delete(ctx context.Context, userID uuid.UUID) error {
	return s.kv.Del(ctx, s.kv.CheckoutKey(userID.String()))
}
