package repository

import (
	"context"
	"errors"

	"github.com/qcom/smsotp/internal/models"
)

// ErrOTPNotFound is returned by Get when no record exists for a phone number.
var ErrOTPNotFound = errors.New("otp not found")

// OTPRepository stores at most one pending OTP record per phone number.
type OTPRepository interface {
	// Save overwrites any record already stored for record.Phone.
	Save(ctx context.Context, record *models.OTPRecord) error
	Get(ctx context.Context, phoneNumber string) (*models.OTPRecord, error)
	// DeleteIfMatch removes the record for phoneNumber only while it still
	// carries codeHash, so a record replaced after it was read is left alone.
	// It reports whether a record was actually removed.
	DeleteIfMatch(ctx context.Context, phoneNumber, codeHash string) (bool, error)
}
