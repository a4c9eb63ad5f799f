package sequence

import (
	"context"
	"testing"
	"time"

	"misp-controlplane/pkg/config"
	"misp-controlplane/pkg/gen"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestKeyFormatRandomMatchesPattern(t *testing.T) {
	for _, f := range []KeyFormat{
		{Length: 50},
		{Prefix: "MISP-", Length: 16},
		{Prefix: "a.b", Length: 4},
	} {
		pattern := f.Pattern()
		for i := 0; i < 50; i++ {
			key, err := f.Random()
			require.NoError(t, err)
			require.Len(t, key, len(f.Prefix)+f.Length)
			require.Truef(t, pattern.MatchString(key), "%q should match %s", key, pattern)
		}
	}
}

func TestKeyFormatPatternRejects(t *testing.T) {
	p := KeyFormat{Prefix: "a.b", Length: 4}.Pattern()
	require.False(t, p.MatchString("axbABCD"), "prefix is literal")
	require.False(t, p.MatchString("a.bABC"))
	require.False(t, p.MatchString("a.bABCDE"))
	require.False(t, p.MatchString("a.bAB0D"), "0 is not in the alphabet")
	require.False(t, p.MatchString("a.babcd"))
	require.True(t, p.MatchString("a.bABCD"))
}

func TestNodeGenerator(t *testing.T) {
	node, err := gen.NewSnowflakeNode(7)
	require.NoError(t, err)
	g := NewNodeGenerator(node, KeyFormat{Length: 20})
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id, err := g.Next(ctx, KindMisp)
		require.NoError(t, err)
		require.False(t, seen[id])
		seen[id] = true
	}

	key, err := g.Next(ctx, KindLicenseKey)
	require.NoError(t, err)
	require.Len(t, key, 20)

	_, err = g.Next(ctx, Kind("voucher"))
	require.Error(t, err)
}

func TestRedisGeneratorKeysDoNotNeedRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()
	g := NewRedisGenerator(rdb, KeyFormat{Prefix: "K", Length: 8})

	key, err := g.Next(context.Background(), KindLicenseKey)
	require.NoError(t, err)
	require.Regexp(t, `^K[A-HJ-NP-Z2-9]{8}$`, key)

	_, err = g.Next(context.Background(), KindMisp)
	require.Error(t, err)
}

func TestNewSelectsBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.License.KeyLength = 10
	node, err := gen.NewSnowflakeNode(1)
	require.NoError(t, err)

	g, err := New(Params{Config: cfg, Node: node})
	require.NoError(t, err)
	require.IsType(t, &NodeGenerator{}, g)

	cfg.Misp.IDGenerator = "redis"
	_, err = New(Params{Config: cfg, Node: node})
	require.Error(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer rdb.Close()
	g, err = New(Params{Config: cfg, Redis: rdb})
	require.NoError(t, err)
	require.IsType(t, &RedisGenerator{}, g)

	cfg.Misp.IDGenerator = "uuid"
	_, err = New(Params{Config: cfg, Node: node})
	require.Error(t, err)
}
