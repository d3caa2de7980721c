package offline

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizlink/service/storage/postgres"
	redisstore "quizlink/service/storage/redis"
)

// These run against real servers only when the address is exported, e.g.
// QUIZLINK_TEST_REDIS=127.0.0.1:6379 or QUIZLINK_TEST_PG=postgres://localhost/quizlink.

func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	key := "quizlink:test:" + time.Now().Format("150405.000000000")

	b, err := s.Load(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, b)

	require.NoError(t, s.Save(ctx, key, []byte(`[{"id":"a"}]`)))
	require.NoError(t, s.Save(ctx, key, []byte(`[{"id":"b"}]`)))
	b, err = s.Load(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"b"}]`, string(b))
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("QUIZLINK_TEST_REDIS")
	if addr == "" {
		t.Skip("QUIZLINK_TEST_REDIS not set")
	}
	rdb, err := redisstore.Open(context.Background(), redisstore.Config{Addr: addr})
	require.NoError(t, err)
	defer rdb.Close()
	storeContract(t, NewRedisStore(rdb))
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("QUIZLINK_TEST_PG")
	if dsn == "" {
		t.Skip("QUIZLINK_TEST_PG not set")
	}
	ctx := context.Background()
	pool, err := postgres.Open(ctx, postgres.Config{URL: dsn})
	require.NoError(t, err)
	defer pool.Close()
	s, err := NewPostgresStore(ctx, pool)
	require.NoError(t, err)
	storeContract(t, s)
}
