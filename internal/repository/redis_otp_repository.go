package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/qcom/smsotp/internal/clock"
	"github.com/qcom/smsotp/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const redisKeyPrefix = "otp:"

// RedisOTPRepository stores records as JSON under otp:<phone>. Keys outlive
// the record expiry by the retention window so an expired code can still be
// reported as expired rather than missing.
type RedisOTPRepository struct {
	client    *redis.Client
	retention time.Duration
	clock     clock.Clocker
	logger    *logrus.Logger
}

func NewRedisOTPRepository(client *redis.Client, retention time.Duration, clk clock.Clocker, logger *logrus.Logger) *RedisOTPRepository {
	return &RedisOTPRepository{
		client:    client,
		retention: retention,
		clock:     clk,
		logger:    logger,
	}
}

func redisKey(phoneNumber string) string {
	return redisKeyPrefix + phoneNumber
}

func (r *RedisOTPRepository) Save(ctx context.Context, record *models.OTPRecord) error {
	dataJSON, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal OTP record: %w", err)
	}

	ttl := record.ExpiresAt.Sub(r.clock.Now()) + r.retention
	if ttl < time.Second {
		ttl = time.Second
	}

	if err := r.client.Set(ctx, redisKey(record.Phone), dataJSON, ttl).Err(); err != nil {
		r.logger.WithError(err).Error("Failed to store OTP in Redis")
		return fmt.Errorf("failed to store OTP: %w", err)
	}

	return nil
}

func (r *RedisOTPRepository) Get(ctx context.Context, phoneNumber string) (*models.OTPRecord, error) {
	dataJSON, err := r.client.Get(ctx, redisKey(phoneNumber)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrOTPNotFound
	}
	if err != nil {
		r.logger.WithError(err).Error("Failed to get OTP from Redis")
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}

	var record models.OTPRecord
	if err := json.Unmarshal(dataJSON, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OTP record: %w", err)
	}

	return &record, nil
}

// DeleteIfMatch watches the key so that a Save landing between the read and
// the DEL aborts the transaction instead of removing the newer record.
func (r *RedisOTPRepository) DeleteIfMatch(ctx context.Context, phoneNumber, codeHash string) (bool, error) {
	key := redisKey(phoneNumber)
	removed := false

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		dataJSON, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		var record models.OTPRecord
		if err := json.Unmarshal(dataJSON, &record); err != nil {
			return fmt.Errorf("failed to unmarshal OTP record: %w", err)
		}
		if record.CodeHash != codeHash {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		if err != nil {
			return err
		}
		removed = true
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		r.logger.WithError(err).Error("Failed to delete OTP from Redis")
		return false, fmt.Errorf("failed to delete OTP: %w", err)
	}
	return removed, nil
}
