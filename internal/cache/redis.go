package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/soldrproxy/soldr/internal/domain"
	"github.com/soldrproxy/soldr/internal/logging"
)

// redisKey is the hash all mirrored origins live under.
const redisKey = "soldr:origins"

// RedisMirror writes the full origin set to a Redis hash on every Refresh,
// field-per-domain, JSON-encoded. It never serves reads — OriginCache.Get
// always comes from the in-process map — so a Redis outage degrades
// nothing but incident-time visibility (SPEC_FULL.md §4.2).
type RedisMirror struct {
	client *redis.Client
	logger logging.Logger
}

// NewRedisMirror connects to redisURL and returns a Mirror. If redisURL is
// empty, NewRedisMirror returns nil and the caller should leave the cache's
// default no-op mirror in place.
func NewRedisMirror(redisURL string, logger logging.Logger) (*RedisMirror, error) {
	if redisURL == "" {
		return nil, nil
	}
	if logger == nil {
		logger = logging.Noop{}
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("origin cache redis mirror unreachable at startup", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return &RedisMirror{client: client, logger: logger}, nil
}

// Mirror replaces the entire "soldr:origins" hash with origins.
func (m *RedisMirror) Mirror(origins []domain.Origin) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fields := make(map[string]interface{}, len(origins))
	for _, o := range origins {
		encoded, err := json.Marshal(o)
		if err != nil {
			m.logger.Warn("failed to encode origin for cache mirror", map[string]interface{}{
				"domain": o.Domain, "error": err.Error(),
			})
			continue
		}
		fields[o.Domain] = encoded
	}

	pipe := m.client.TxPipeline()
	pipe.Del(ctx, redisKey)
	if len(fields) > 0 {
		pipe.HSet(ctx, redisKey, fields)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Warn("failed to mirror origin cache to redis", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

var _ Mirror = (*RedisMirror)(nil)
