package repository

import (
	"context"
	"sync"
	"time"

	"github.com/qcom/smsotp/internal/clock"
	"github.com/qcom/smsotp/internal/models"
	"github.com/sirupsen/logrus"
)

// MemoryOTPRepository keeps records in process memory. Everything is lost on
// restart.
type MemoryOTPRepository struct {
	mu        sync.Mutex
	records   map[string]models.OTPRecord
	retention time.Duration
	clock     clock.Clocker
	logger    *logrus.Logger
}

func NewMemoryOTPRepository(retention time.Duration, clk clock.Clocker, logger *logrus.Logger) *MemoryOTPRepository {
	return &MemoryOTPRepository{
		records:   make(map[string]models.OTPRecord),
		retention: retention,
		clock:     clk,
		logger:    logger,
	}
}

func (r *MemoryOTPRepository) Save(_ context.Context, record *models.OTPRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[record.Phone] = *record
	return nil
}

func (r *MemoryOTPRepository) Get(_ context.Context, phoneNumber string) (*models.OTPRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[phoneNumber]
	if !ok {
		return nil, ErrOTPNotFound
	}
	return &record, nil
}

func (r *MemoryOTPRepository) DeleteIfMatch(_ context.Context, phoneNumber, codeHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[phoneNumber]
	if !ok || record.CodeHash != codeHash {
		return false, nil
	}
	delete(r.records, phoneNumber)
	return true, nil
}

// Len returns the number of stored records, expired ones included.
func (r *MemoryOTPRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// PurgeExpired drops records that expired more than the retention window
// before now and returns how many were removed.
func (r *MemoryOTPRepository) PurgeExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for phone, record := range r.records {
		if now.After(record.ExpiresAt.Add(r.retention)) {
			delete(r.records, phone)
			removed++
		}
	}
	return removed
}

// StartJanitor purges stale records every interval until ctx is cancelled.
func (r *MemoryOTPRepository) StartJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := r.PurgeExpired(r.clock.Now()); removed > 0 {
					r.logger.WithField("removed", removed).Debug("Purged expired OTP records")
				}
			}
		}
	}()
}
