package caching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"billingsync/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "billingsync"

type CacheService interface {
	// Webhook delivery dedup. The database ledger is authoritative; this is the fast path.
	IsEventProcessed(ctx context.Context, gateway models.Gateway, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, gateway models.Gateway, eventID string, ttl time.Duration) error

	// Subscription read-through caching
	GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	SetSubscription(ctx context.Context, subscription *models.Subscription, ttl time.Duration) error
	DeleteSubscription(ctx context.Context, id uuid.UUID) error

	Ping(ctx context.Context) error
	Close() error
}

type redisCacheService struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisClient accepts either host:port or a redis:// URL.
func NewRedisClient(addr, password string, db int) *redis.Client {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		if opts, err := redis.ParseURL(addr); err == nil {
			if password != "" {
				opts.Password = password
			}
			return redis.NewClient(opts)
		}
		addr = strings.TrimPrefix(strings.TrimPrefix(addr, "redis://"), "rediss://")
	}

	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisCacheService(client *redis.Client, logger *slog.Logger) CacheService {
	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("redis ping failed on initialization", "addr", client.Options().Addr, "error", err)
	} else {
		logger.Debug("redis connection established", "addr", client.Options().Addr)
	}
	return &redisCacheService{client: client, logger: logger}
}

func eventKey(gateway models.Gateway, eventID string) string {
	return fmt.Sprintf("%s:webhook:%s:%s", keyPrefix, gateway, eventID)
}

func subscriptionKey(id uuid.UUID) string {
	return fmt.Sprintf("%s:subscription:%s", keyPrefix, id.String())
}

func (r *redisCacheService) IsEventProcessed(ctx context.Context, gateway models.Gateway, eventID string) (bool, error) {
	n, err := r.client.Exists(ctx, eventKey(gateway, eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *redisCacheService) MarkEventProcessed(ctx context.Context, gateway models.Gateway, eventID string, ttl time.Duration) error {
	return r.client.Set(ctx, eventKey(gateway, eventID), time.Now().UTC().Format(time.RFC3339), ttl).Err()
}

func (r *redisCacheService) GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	data, err := r.client.Get(ctx, subscriptionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // cache miss
		}
		return nil, err
	}

	var subscription models.Subscription
	if err := json.Unmarshal(data, &subscription); err != nil {
		return nil, err
	}
	return &subscription, nil
}

func (r *redisCacheService) SetSubscription(ctx context.Context, subscription *models.Subscription, ttl time.Duration) error {
	data, err := json.Marshal(subscription)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, subscriptionKey(subscription.ID), data, ttl).Err()
}

func (r *redisCacheService) DeleteSubscription(ctx context.Context, id uuid.UUID) error {
	return r.client.Del(ctx, subscriptionKey(id)).Err()
}

func (r *redisCacheService) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisCacheService) Close() error {
	return r.client.Close()
}
