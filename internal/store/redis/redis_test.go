package redis_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telhawk-systems/eventsink/internal/models"
	"github.com/telhawk-systems/eventsink/internal/store"
	redisstore "github.com/telhawk-systems/eventsink/internal/store/redis"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redisstore.Store) {
	t.Helper()
	mr := miniredis.RunT(t)

	s, err := redisstore.New(context.Background(), redisstore.Config{
		URL:       "redis://" + mr.Addr() + "/0",
		KeyPrefix: "devicesdb:devices",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return mr, s
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := redisstore.New(context.Background(), redisstore.Config{URL: "://nope"})
	assert.Error(t, err)
}

func TestStore_Create(t *testing.T) {
	mr, s := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "dev-1", models.Record{"id": "dev-1", "name": "Sensor A"}))

	raw, err := mr.Get("devicesdb:devices:dev-1")
	require.NoError(t, err)
	var stored map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, "Sensor A", stored["name"])

	err = s.Create(ctx, "dev-1", models.Record{"id": "dev-1"})
	assert.Equal(t, store.KindConflict, store.Classify(err))
}

func TestStore_Replace(t *testing.T) {
	_, s := setupTestRedis(t)
	ctx := context.Background()

	err := s.Replace(ctx, "dev-1", models.Record{"id": "dev-1"})
	assert.Equal(t, store.KindPermanent, store.Classify(err))
	assert.ErrorIs(t, err, redisstore.ErrNotFound)

	require.NoError(t, s.Create(ctx, "dev-1", models.Record{"id": "dev-1", "name": "A"}))
	require.NoError(t, s.Replace(ctx, "dev-1", models.Record{"id": "dev-1", "name": "B"}))

	got, err := s.Get(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "B", got["name"])
}

func TestStore_GetPreservesLargeNumbers(t *testing.T) {
	_, s := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "dev-1", models.Record{"id": "dev-1", "serial": json.Number("9007199254740993")}))

	got, err := s.Get(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, json.Number("9007199254740993"), got["serial"])
}

func TestStore_ServerErrors(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want store.Kind
	}{
		{name: "loading", msg: "LOADING Redis is loading the dataset in memory", want: store.KindTransient},
		{name: "busy", msg: "BUSY Redis is busy running a script", want: store.KindTransient},
		{name: "out of memory", msg: "OOM command not allowed when used memory > 'maxmemory'", want: store.KindPermanent},
		{name: "no permission", msg: "NOPERM this user has no permissions", want: store.KindPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr, s := setupTestRedis(t)
			mr.SetError(tt.msg)

			err := s.Create(context.Background(), "dev-1", models.Record{"id": "dev-1"})
			assert.Equal(t, tt.want, store.Classify(err))
		})
	}
}

func TestStore_ConnectionLost(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	s := redisstore.NewWithClient(client, "")
	defer s.Close()

	require.NoError(t, s.Ping(context.Background()))
	mr.Close()

	err := s.Create(context.Background(), "dev-1", models.Record{"id": "dev-1"})
	assert.Equal(t, store.KindTransient, store.Classify(err))
}
