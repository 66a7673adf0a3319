package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"coop-settlement/internal/domain"
	"coop-settlement/internal/service"
	"coop-settlement/pkg/cache/redis"

	"github.com/google/uuid"
)

const (
	importSetKey = "import_ids"
	importTTL    = 24 * time.Hour
)

// releaseScript deletes the lock only while it still holds our token, so an
// expired lock taken over by another worker is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	MaxRetries  int
	DialTimeout time.Duration
	Timeout     time.Duration

	Prefix string
}

type RedisClient struct {
	raw    *redis.Client
	prefix string
}

func NewRedisClient(cfg RedisConfig) (*RedisClient, error) {
	rdb, err := redis.NewRedisConnection(redis.ConnectionInfo{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: cfg.DialTimeout,
		Timeout:     cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return newRedisClient(rdb, cfg.Prefix), nil
}

func newRedisClient(rdb *redis.Client, prefix string) *RedisClient {
	if prefix == "" {
		if envPrefix := os.Getenv("REDIS_PREFIX"); envPrefix != "" {
			prefix = envPrefix
		} else {
			prefix = "coop_settlement_"
		}
	}
	return &RedisClient{raw: rdb, prefix: prefix}
}

func (c *RedisClient) Close() {
	if c == nil || c.raw == nil {
		return
	}
	redis.Close(c.raw)
}

func (c *RedisClient) withPrefix(key string) string {
	return c.prefix + key
}

func (c *RedisClient) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.raw.Set(ctx, c.withPrefix(key), value, ttl).Err()
}

func (c *RedisClient) Get(ctx context.Context, key string) (string, error) {
	return c.raw.Get(ctx, c.withPrefix(key)).Result()
}

func (c *RedisClient) SAdd(ctx context.Context, key string, members ...any) error {
	return c.raw.SAdd(ctx, c.withPrefix(key), members...).Err()
}

func (c *RedisClient) SMembers(ctx context.Context, key string) ([]string, error) {
	return c.raw.SMembers(ctx, c.withPrefix(key)).Result()
}

func (c *RedisClient) SRem(ctx context.Context, key string, members ...any) error {
	return c.raw.SRem(ctx, c.withPrefix(key), members...).Err()
}

func (c *RedisClient) Ping(ctx context.Context) error {
	return c.raw.Ping(ctx).Err()
}

// Acquire takes the named lock for ttl. It fails with
// domain.ErrSettlementInProgress while someone else holds it.
func (c *RedisClient) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	fullKey := c.withPrefix("lock:" + key)

	ok, err := c.raw.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrSettlementInProgress
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, c.raw, []string{fullKey}, token).Err()
	}
	return release, nil
}

func (c *RedisClient) SaveImportStatus(ctx context.Context, st *service.ImportStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := c.Set(ctx, st.Key, string(data), importTTL); err != nil {
		return err
	}
	return c.SAdd(ctx, importSetKey, st.Key)
}

func (c *RedisClient) GetImportStatus(ctx context.Context, id string) (*service.ImportStatus, error) {
	data, err := c.Get(ctx, id)
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var st service.ImportStatus
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, fmt.Errorf("failed to parse import status: %w", err)
	}
	return &st, nil
}

// ListImportStatuses returns every import still held in redis. Ids whose
// status already expired are dropped from the index.
func (c *RedisClient) ListImportStatuses(ctx context.Context) ([]*service.ImportStatus, error) {
	keys, err := c.SMembers(ctx, importSetKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get import keys: %w", err)
	}

	out := make([]*service.ImportStatus, 0, len(keys))
	for _, key := range keys {
		st, err := c.GetImportStatus(ctx, key)
		if errors.Is(err, domain.ErrNotFound) {
			if err := c.SRem(ctx, importSetKey, key); err != nil {
				log.Printf("[REDIS] drop expired import %s: %v", key, err)
			}
			continue
		}
		if err != nil {
			log.Printf("[REDIS] skip import %s: %v", key, err)
			continue
		}
		out = append(out, st)
	}
	return out, nil
}
