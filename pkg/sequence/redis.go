package sequence

import (
	"context"
	"fmt"

	"misp-controlplane/pkg/rediskey"

	"github.com/redis/go-redis/v9"
)

// RedisGenerator numbers accounts from a shared INCR counter so ids stay dense
// across replicas. License keys are still random.
type RedisGenerator struct {
	rdb    *redis.Client
	format KeyFormat
}

func NewRedisGenerator(rdb *redis.Client, format KeyFormat) *RedisGenerator {
	return &RedisGenerator{rdb: rdb, format: format}
}

func (g *RedisGenerator) Next(ctx context.Context, kind Kind) (string, error) {
	switch kind {
	case KindMisp:
		seq, err := g.rdb.Incr(ctx, rediskey.BuildSequenceKey(string(kind))).Result()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%05d", seq), nil
	case KindLicenseKey:
		return g.format.Random()
	default:
		return "", unknownKind(kind)
	}
}
