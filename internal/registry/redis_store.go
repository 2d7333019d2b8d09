package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/anthonyacole/onvif-proxy/internal/camera"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore keeps camera definitions as JSON documents under <keyPrefix><id>.
//
// Deployment & Operational Model:
//   - Single writer per keyPrefix; the gateway owns its prefix exclusively.
//   - Redis is the system of record for runtime-registered cameras; the
//     in-memory Registry is rebuilt from it on startup via LoadAll.
//
// Consistency Model:
//   - Writes go to Redis before the Registry is mutated.
//   - Keys under the prefix that do not decode are logged and skipped.
type RedisStore struct {
	log       *zap.Logger
	rdb       *redis.Client
	keyPrefix string
}

func NewRedisStore(rdb *redis.Client, keyPrefix string, log *zap.Logger) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("nil redis client")
	}
	if keyPrefix == "" {
		return nil, fmt.Errorf("invalid keyPrefix: must be non-empty")
	}
	if !strings.HasSuffix(keyPrefix, ":") {
		keyPrefix = keyPrefix + ":"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{log: log.Named("redis-store"), rdb: rdb, keyPrefix: keyPrefix}, nil
}

func (s *RedisStore) key(id string) string { return s.keyPrefix + id }

// Save overwrites the stored definition of ep.ID.
func (s *RedisStore) Save(ctx context.Context, ep camera.Endpoint) error {
	b, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("marshal camera: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(ep.ID), b, 0).Err(); err != nil {
		return fmt.Errorf("set (key=%s): %w", s.key(ep.ID), err)
	}
	return nil
}

// Delete is idempotent.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

// Get returns one stored definition or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, id string) (camera.Endpoint, error) {
	raw, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return camera.Endpoint{}, ErrNotFound
		}
		return camera.Endpoint{}, fmt.Errorf("redis get: %w", err)
	}
	var ep camera.Endpoint
	if err := json.Unmarshal(raw, &ep); err != nil {
		return camera.Endpoint{}, fmt.Errorf("decode (key=%s): %w", s.key(id), err)
	}
	return ep, nil
}

// LoadAll scans the prefix and returns every decodable definition, ordered by id.
func (s *RedisStore) LoadAll(ctx context.Context) ([]camera.Endpoint, error) {
	start := time.Now()

	var keys []string
	iter := s.rdb.Scan(ctx, 0, s.keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)

	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	out := make([]camera.Endpoint, 0, len(keys))
	skipped := 0
	for i, raw := range vals {
		str, ok := raw.(string)
		if !ok {
			// deleted between SCAN and MGET
			continue
		}
		var ep camera.Endpoint
		if err := json.Unmarshal([]byte(str), &ep); err != nil || ep.ID == "" {
			s.log.Warn("load: undecodable key under prefix; skipping", zap.String("key", keys[i]))
			skipped++
			continue
		}
		out = append(out, ep)
	}

	s.log.Info("load: complete",
		zap.String("prefix", s.keyPrefix),
		zap.Int("recovered", len(out)),
		zap.Int("skipped", skipped),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}
