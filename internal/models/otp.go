package models

import "time"

// OTPRecord is the pending passcode for a single phone number. A new request
// for the same number replaces it.
type OTPRecord struct {
	Phone     string    `json:"phone" dynamodbav:"phone"`
	CodeHash  string    `json:"code_hash" dynamodbav:"code_hash"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
	ExpiresAt time.Time `json:"expires_at" dynamodbav:"expires_at"`
}

// IsExpired reports whether now is past the record's expiry.
func (r *OTPRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
