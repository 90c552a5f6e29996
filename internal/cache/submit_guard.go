package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/campusmart/marketplace-backend/internal/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const submitGuardPrefix = "booking-submit:"

// releaseScript deletes the guard only if this holder still owns it
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// SubmitGuard serializes concurrent submits of the same (listing, requester)
// pair across server instances. The database unique index stays authoritative.
type SubmitGuard interface {
	// Acquire returns ok=false when another submit holds the guard
	Acquire(ctx context.Context, listingID, requesterID uuid.UUID) (release func(), ok bool, err error)
}

// NoopGuard always grants the guard
type NoopGuard struct{}

func (NoopGuard) Acquire(ctx context.Context, listingID, requesterID uuid.UUID) (func(), bool, error) {
	return func() {}, true, nil
}

// RedisSubmitGuard holds a short SETNX lock per pair
type RedisSubmitGuard struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// NewRedisSubmitGuard creates a guard whose locks expire after ttl
func NewRedisSubmitGuard(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *RedisSubmitGuard {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisSubmitGuard{client: client, ttl: ttl, logger: logger}
}

// Acquire takes the guard for the pair
func (g *RedisSubmitGuard) Acquire(ctx context.Context, listingID, requesterID uuid.UUID) (func(), bool, error) {
	key := GuardKey(listingID, requesterID)
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire submit guard: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// Detached from the request context so a cancelled request still releases
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, g.client, []string{key}, token).Err(); err != nil {
			g.logger.WithError(err).WithField("key", key).Warn("Failed to release submit guard; it will expire after its TTL")
		}
	}
	return release, true, nil
}

// GuardKey is the Redis key for a (listing, requester) pair
func GuardKey(listingID, requesterID uuid.UUID) string {
	return submitGuardPrefix + listingID.String() + ":" + requesterID.String()
}
