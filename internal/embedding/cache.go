package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/newsflow/internal/metrics"
)

// CachedProvider wraps a Provider with a Redis cache keyed by the
// SHA-256 of the input text. Cache failures degrade to a direct call;
// they never fail the embedding.
type CachedProvider struct {
	inner Provider
	pool  *redis.Pool
	ttl   time.Duration
	model string
	stats *metrics.Metrics
}

// NewCachedProvider wraps inner with a Redis cache. A nil pool disables
// caching and passes every call through; a nil stats skips counting.
func NewCachedProvider(inner Provider, pool *redis.Pool, ttl time.Duration, model string, stats *metrics.Metrics) *CachedProvider {
	return &CachedProvider{inner: inner, pool: pool, ttl: ttl, model: model, stats: stats}
}

// NewRedisPool builds a redigo pool for the given address with the
// usual production settings.
func NewRedisPool(addr string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     4,
		MaxActive:   16,
		IdleTimeout: 5 * time.Minute,
		Wait:        true,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr,
				redis.DialConnectTimeout(2*time.Second),
				redis.DialReadTimeout(2*time.Second),
				redis.DialWriteTimeout(2*time.Second),
			)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

// Dimension returns the inner provider's vector width.
func (p *CachedProvider) Dimension() int { return p.inner.Dimension() }

// Embed returns a cached embedding when available, otherwise calls the
// inner provider and stores the result.
func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.pool == nil {
		return p.inner.Embed(ctx, text)
	}

	key := p.cacheKey(text)
	if vec, ok := p.get(ctx, key); ok {
		if p.stats != nil {
			p.stats.EmbedCacheHit()
		}
		return vec, nil
	}
	if p.stats != nil {
		p.stats.EmbedCacheMiss()
	}

	vec, err := p.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	p.put(ctx, key, vec)
	return vec, nil
}

func (p *CachedProvider) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("newsflow:emb:%s:%s", p.model, hex.EncodeToString(sum[:]))
}

func (p *CachedProvider) get(ctx context.Context, key string) ([]float32, bool) {
	conn, err := p.pool.GetContext(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Redis unavailable, skipping embedding cache read")
		return nil, false
	}
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("GET", key))
	if err == redis.ErrNil {
		return nil, false
	}
	if err != nil {
		log.Debug().Err(err).Msg("Embedding cache read failed")
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil || len(vec) == 0 {
		return nil, false
	}
	return vec, true
}

func (p *CachedProvider) put(ctx context.Context, key string, vec []float32) {
	conn, err := p.pool.GetContext(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Redis unavailable, skipping embedding cache write")
		return
	}
	defer conn.Close()

	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if p.ttl > 0 {
		_, err = conn.Do("SET", key, data, "EX", int(p.ttl.Seconds()))
	} else {
		_, err = conn.Do("SET", key, data)
	}
	if err != nil {
		log.Debug().Err(err).Msg("Embedding cache write failed")
	}
}
