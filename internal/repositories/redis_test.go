package repositories

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/roomkey"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client, roomkey.Codec) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { require.NoError(t, client.Close()) })
	return mr, client, roomkey.New("test")
}
