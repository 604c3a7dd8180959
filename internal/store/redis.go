package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"flashsale/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	eventChannelPrefix = "sale_events:"
	recentFeedPrefix   = "recent_purchases:"
)

// RedisStore carries the two Redis concerns: the topic-keyed Pub/Sub bus that
// feeds the websocket hub, and the recent-purchase list cache behind the live
// feed.
type RedisStore struct {
	Client *redis.Client
}

func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{Client: client}
}

func (s *RedisStore) Close() error {
	if s.Client != nil {
		return s.Client.Close()
	}
	return nil
}

// PublishEvent pushes an event onto the sale's channel. Delivery is
// best-effort; a failed publish only degrades the live feed.
func (s *RedisStore) PublishEvent(ctx context.Context, saleID int64, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	channel := fmt.Sprintf("%s%d", eventChannelPrefix, saleID)
	if err := s.Client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event to redis: %w", err)
	}
	return nil
}

// SubscribeEvents opens a pattern subscription over every sale channel.
func (s *RedisStore) SubscribeEvents(ctx context.Context) *redis.PubSub {
	return s.Client.PSubscribe(ctx, eventChannelPrefix+"*")
}

// SaleIDFromChannel extracts the sale id from an event channel name.
func SaleIDFromChannel(channel string) (int64, bool) {
	raw, ok := strings.CutPrefix(channel, eventChannelPrefix)
	if !ok {
		return 0, false
	}
	saleID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return saleID, true
}

// PushRecentPurchase prepends a purchase to the sale's live-feed list,
// trimming it to keep entries.
func (s *RedisStore) PushRecentPurchase(ctx context.Context, p *models.Purchase, keep int) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal purchase: %w", err)
	}

	key := fmt.Sprintf("%s%d", recentFeedPrefix, p.SaleID)
	pipe := s.Client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, int64(keep-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push recent purchase: %w", err)
	}
	return nil
}

// RecentPurchases reads the latest n purchases from the feed cache, newest
// first. An empty result is not an error; callers fall back to the database.
func (s *RedisStore) RecentPurchases(ctx context.Context, saleID int64, n int) ([]models.Purchase, error) {
	key := fmt.Sprintf("%s%d", recentFeedPrefix, saleID)
	values, err := s.Client.LRange(ctx, key, 0, int64(n-1)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read recent purchases: %w", err)
	}

	purchases := make([]models.Purchase, 0, len(values))
	for _, raw := range values {
		var p models.Purchase
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recent purchase: %w", err)
		}
		purchases = append(purchases, p)
	}
	return purchases, nil
}
