package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const generationLockPrefix = "generation_lock:"

// redisGenerationLock реализует GenerationLock через SETNX с TTL.
// TTL страхует от вечной блокировки при падении воркера посреди задачи.
type redisGenerationLock struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisGenerationLock создает блокировку активной генерации.
func NewRedisGenerationLock(client *redis.Client, ttl time.Duration, logger *zap.Logger) GenerationLock {
	return &redisGenerationLock{client: client, ttl: ttl, logger: logger.Named("GenerationLock")}
}

func (l *redisGenerationLock) key(userID uuid.UUID) string {
	return generationLockPrefix + userID.String()
}

func (l *redisGenerationLock) Acquire(ctx context.Context, userID uuid.UUID) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(userID), time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire generation lock: %w", err)
	}
	if !ok {
		l.logger.Info("User already has an active generation", zap.String("user_id", userID.String()))
	}
	return ok, nil
}

func (l *redisGenerationLock) Release(ctx context.Context, userID uuid.UUID) error {
	if err := l.client.Del(ctx, l.key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to release generation lock: %w", err)
	}
	return nil
}
