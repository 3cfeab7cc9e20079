// Package sms delivers text messages to phone numbers.
package sms

import "context"

// Sender delivers a single SMS. Implementations make exactly one attempt.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}
