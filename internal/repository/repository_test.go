package repository

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/qcom/smsotp/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.now
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newRecord(phone, hash string, now time.Time, ttl time.Duration) *models.OTPRecord {
	return &models.OTPRecord{
		Phone:     phone,
		CodeHash:  hash,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// runRepositoryContract exercises the behaviour every OTPRepository backend
// must share.
func runRepositoryContract(t *testing.T, newRepo func(t *testing.T, clk *fixedClock) OTPRepository) {
	t.Helper()

	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("get missing", func(t *testing.T) {
		repo := newRepo(t, &fixedClock{now: now})

		record, err := repo.Get(ctx, "+15551234567")
		assert.ErrorIs(t, err, ErrOTPNotFound)
		assert.Nil(t, record)
	})

	t.Run("save then get", func(t *testing.T) {
		repo := newRepo(t, &fixedClock{now: now})
		require.NoError(t, repo.Save(ctx, newRecord("+15551234567", "hash-1", now, time.Minute)))

		record, err := repo.Get(ctx, "+15551234567")
		require.NoError(t, err)
		assert.Equal(t, "+15551234567", record.Phone)
		assert.Equal(t, "hash-1", record.CodeHash)
		assert.True(t, record.CreatedAt.Equal(now))
		assert.True(t, record.ExpiresAt.Equal(now.Add(time.Minute)))
	})

	t.Run("save overwrites", func(t *testing.T) {
		repo := newRepo(t, &fixedClock{now: now})
		require.NoError(t, repo.Save(ctx, newRecord("+15551234567", "hash-1", now, time.Minute)))
		require.NoError(t, repo.Save(ctx, newRecord("+15551234567", "hash-2", now, time.Minute)))

		record, err := repo.Get(ctx, "+15551234567")
		require.NoError(t, err)
		assert.Equal(t, "hash-2", record.CodeHash)
	})

	t.Run("numbers are independent", func(t *testing.T) {
		repo := newRepo(t, &fixedClock{now: now})
		require.NoError(t, repo.Save(ctx, newRecord("+15550000001", "hash-a", now, time.Minute)))
		require.NoError(t, repo.Save(ctx, newRecord("+15550000002", "hash-b", now, time.Minute)))

		deleted, err := repo.DeleteIfMatch(ctx, "+15550000001", "hash-a")
		require.NoError(t, err)
		assert.True(t, deleted)

		record, err := repo.Get(ctx, "+15550000002")
		require.NoError(t, err)
		assert.Equal(t, "hash-b", record.CodeHash)
	})

	t.Run("delete reports removal once", func(t *testing.T) {
		repo := newRepo(t, &fixedClock{now: now})
		require.NoError(t, repo.Save(ctx, newRecord("+15551234567", "hash-1", now, time.Minute)))

		deleted, err := repo.DeleteIfMatch(ctx, "+15551234567", "hash-1")
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = repo.DeleteIfMatch(ctx, "+15551234567", "hash-1")
		require.NoError(t, err)
		assert.False(t, deleted)

		_, err = repo.Get(ctx, "+15551234567")
		assert.ErrorIs(t, err, ErrOTPNotFound)
	})

	t.Run("delete keeps a replaced record", func(t *testing.T) {
		repo := newRepo(t, &fixedClock{now: now})
		require.NoError(t, repo.Save(ctx, newRecord("+15551234567", "hash-1", now, time.Minute)))

		read, err := repo.Get(ctx, "+15551234567")
		require.NoError(t, err)

		require.NoError(t, repo.Save(ctx, newRecord("+15551234567", "hash-2", now, time.Minute)))

		deleted, err := repo.DeleteIfMatch(ctx, "+15551234567", read.CodeHash)
		require.NoError(t, err)
		assert.False(t, deleted)

		record, err := repo.Get(ctx, "+15551234567")
		require.NoError(t, err)
		assert.Equal(t, "hash-2", record.CodeHash)
	})

	t.Run("expired record is still readable", func(t *testing.T) {
		repo := newRepo(t, &fixedClock{now: now})
		require.NoError(t, repo.Save(ctx, newRecord("+15551234567", "hash-1", now.Add(-2*time.Minute), time.Minute)))

		record, err := repo.Get(ctx, "+15551234567")
		require.NoError(t, err)
		assert.True(t, record.IsExpired(now))
	})
}
