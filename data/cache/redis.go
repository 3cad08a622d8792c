package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ymgta/pfrisk/config"
	"github.com/ymgta/pfrisk/utils"
)

type redisEnvelope struct {
	Payload   json.RawMessage `json:"payload"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// Redis is the optional cache backend that survives process restarts.
// Keys expire at the retention period, not the freshness window, so the
// gateway can still serve expired entries as stale fallbacks.
type Redis struct {
	redis *redis.Client
	cfg   *config.Config
}

func NewRedis(redisClient *redis.Client, cfg *config.Config) *Redis {
	return &Redis{redis: redisClient, cfg: cfg}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, time.Time, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)

	res, err := r.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, time.Time{}, ErrCacheMiss
		}
		slog.Error("failed on redis.Get", slog.String("rqID", rqID), slog.String("key", key), slog.String("err", err.Error()))
		return nil, time.Time{}, err
	}

	envelope := redisEnvelope{}
	if err := json.Unmarshal([]byte(res), &envelope); err != nil {
		slog.Error("can't unmarshal cache envelope", slog.String("rqID", rqID), slog.String("key", key), slog.String("err", err.Error()))
		return nil, time.Time{}, err
	}

	return envelope.Payload, envelope.FetchedAt, nil
}

func (r *Redis) Set(ctx context.Context, key string, payload []byte, fetchedAt time.Time) error {
	rqID := utils.GetRequestIDFromCtx(ctx)

	envelope, err := json.Marshal(redisEnvelope{Payload: payload, FetchedAt: fetchedAt})
	if err != nil {
		slog.Error("can't marshal cache envelope", slog.String("rqID", rqID), slog.String("key", key), slog.String("err", err.Error()))
		return err
	}

	if err := r.redis.Set(ctx, key, envelope, r.cfg.Cache.StaleRetention).Err(); err != nil {
		slog.Error("failed on redis.Set", slog.String("rqID", rqID), slog.String("key", key), slog.String("err", err.Error()))
		return err
	}

	return nil
}
