package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/example/marketplace/pkg/config"
	"github.com/example/marketplace/pkg/models"
	"github.com/go-redis/redis/v8"
)

const (
	cartVersionField = "v"
	cartLinePrefix   = "p:"
	maxTxRetries     = 50
)

// RedisRepository stores each user's cart as one hash: a field per product line
// plus a version counter. Mutations run as optimistic WATCH/MULTI transactions.
type RedisRepository struct {
	client *redis.Client
	config *config.RedisConfig
}

func NewRedisRepository(cfg *config.RedisConfig) *RedisRepository {
	return NewRedisRepositoryWithClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}), cfg)
}

func NewRedisRepositoryWithClient(client *redis.Client, cfg *config.RedisConfig) *RedisRepository {
	if cfg == nil {
		cfg = &config.RedisConfig{}
	}
	return &RedisRepository{
		client: client,
		config: cfg,
	}
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRepository) Client() *redis.Client {
	return r.client
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

func (r *RedisRepository) Load(ctx context.Context, userID string) (models.CartSnapshot, error) {
	raw, err := r.client.HGetAll(ctx, r.cartKey(userID)).Result()
	if err != nil {
		return models.CartSnapshot{}, models.Persistence("load cart", err)
	}
	version, lines, err := decodeCart(raw)
	if err != nil {
		return models.CartSnapshot{}, models.Persistence("decode cart", err)
	}
	return buildSnapshot(userID, version, lines, time.Now()), nil
}

// Mutate applies fn inside a WATCH transaction on the user's hash and retries
// when another session wrote in between. fn sees the freshest lines each try.
func (r *RedisRepository) Mutate(ctx context.Context, userID string, fn models.CartMutation) (models.CartSnapshot, error) {
	key := r.cartKey(userID)

	var (
		snap  models.CartSnapshot
		fnErr error
	)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		version, lines, err := decodeCart(raw)
		if err != nil {
			return err
		}
		before := make(map[string]struct{}, len(lines))
		for id := range lines {
			before[id] = struct{}{}
		}

		if fnErr = fn(lines); fnErr != nil {
			return fnErr
		}

		next := version + 1
		values := []interface{}{cartVersionField, next}
		for id, line := range lines {
			data, err := json.Marshal(line)
			if err != nil {
				return fmt.Errorf("marshal cart line failed: %w", err)
			}
			values = append(values, cartLinePrefix+id, data)
		}
		var removed []string
		for id := range before {
			if _, ok := lines[id]; !ok {
				removed = append(removed, cartLinePrefix+id)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(removed) > 0 {
				pipe.HDel(ctx, key, removed...)
			}
			pipe.HSet(ctx, key, values...)
			return nil
		})
		if err != nil {
			return err
		}

		snap = buildSnapshot(userID, next, lines, time.Now())
		return nil
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		fnErr = nil
		err := r.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return snap, nil
		case fnErr != nil:
			return models.CartSnapshot{}, fnErr
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return models.CartSnapshot{}, models.Persistence("mutate cart", err)
		}
	}
	return models.CartSnapshot{}, models.Persistence("mutate cart",
		fmt.Errorf("gave up after %d conflicting transactions", maxTxRetries))
}

func (r *RedisRepository) cartKey(userID string) string {
	return fmt.Sprintf("%s%s", r.keyPrefix(), userID)
}

func (r *RedisRepository) keyPrefix() string {
	if r.config.CartKeyPrefix != "" {
		return r.config.CartKeyPrefix
	}
	return "cart:"
}

func decodeCart(raw map[string]string) (int64, map[string]*models.CartLine, error) {
	var version int64
	lines := make(map[string]*models.CartLine, len(raw))
	for field, value := range raw {
		switch {
		case field == cartVersionField:
			v, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("parse cart version: %w", err)
			}
			version = v
		case strings.HasPrefix(field, cartLinePrefix):
			var line models.CartLine
			if err := json.Unmarshal([]byte(value), &line); err != nil {
				return 0, nil, fmt.Errorf("unmarshal cart line failed: %w", err)
			}
			lines[strings.TrimPrefix(field, cartLinePrefix)] = &line
		}
	}
	return version, lines, nil
}

func buildSnapshot(userID string, version int64, lines map[string]*models.CartLine, at time.Time) models.CartSnapshot {
	out := make([]models.CartLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.Before(out[j].AddedAt)
		}
		return out[i].ProductID < out[j].ProductID
	})
	return models.CartSnapshot{
		UserID:    userID,
		Version:   version,
		Lines:     out,
		UpdatedAt: at,
	}
}
