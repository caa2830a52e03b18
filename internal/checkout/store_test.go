package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	redispkg "github.com/angelmondragon/storefront-checkout/pkg/redis"
)

type fakeKV struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func newFakeKV() *fakeKV {
	return &fakeKV{values: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeKV) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	f.values[key] = value.(string)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeKV) Get(_ context.Context, key string) (string, error) {
	v, ok := f.values[key]
	if !ok {
		return "", redispkg.ErrNil
	}
	return v, nil
}

func (f *fakeKV) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.values, key)
	}
	return nil
}

func (f *fakeKV) CheckoutKey(userID string) string { return "sf:checkout:" + userID }

func TestRedisStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := newFakeKV()
	store := NewRedisStore(kv)
	c := validCheckout()

	require.NoError(t, store.Save(ctx, c, 15*time.Minute))
	require.Equal(t, 15*time.Minute, kv.ttls["sf:checkout:"+c.UserID.String()])

	got, err := store.Load(ctx, c.UserID)
	require.NoError(t, err)
	require.Equal(t, c.ID, got.ID)
	require.Equal(t, c.FinalTotalCents, got.FinalTotalCents)
	require.NoError(t, got.Validate())

	require.NoError(t, store.Delete(ctx, c.UserID))
	_, err = store.Load(ctx, c.UserID)
	require.ErrorIs(t, err, ErrCheckoutNotFound)
}

func TestRedisStoreRejectsNonPositiveTTL(t *testing.T) {
	t.Parallel()

	require.Error(t, NewRedisStore(newFakeKV()).Save(context.Background(), validCheckout(), 0))
}

func TestRedisStoreLoadMissingUser(t *testing.T) {
	t.Parallel()

	_, err := NewRedisStore(newFakeKV()).Load(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrCheckoutNotFound)
}

func TestRedisStoreLoadCorruptValue(t *testing.T) {
	t.Parallel()

	kv := newFakeKV()
	userID := uuid.New()
	kv.values[kv.CheckoutKey(userID.String())] = "{not json"
	_, err := NewRedisStore(kv).Load(context.Background(), userID)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrCheckoutNotFound)
}
