package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/qcom/smsotp/internal/clock"
	"github.com/qcom/smsotp/internal/config"
	"github.com/qcom/smsotp/internal/models"
	"github.com/qcom/smsotp/internal/repository"
	"github.com/qcom/smsotp/internal/sms"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

type OTPService struct {
	repo      repository.OTPRepository
	sender    sms.Sender
	generator Generator
	clock     clock.Clocker
	cfg       *config.OTPConfig
	logger    *logrus.Logger
}

func NewOTPService(
	repo repository.OTPRepository,
	sender sms.Sender,
	generator Generator,
	clk clock.Clocker,
	cfg *config.OTPConfig,
	logger *logrus.Logger,
) *OTPService {
	return &OTPService{
		repo:      repo,
		sender:    sender,
		generator: generator,
		clock:     clk,
		cfg:       cfg,
		logger:    logger,
	}
}

// RequestOTP issues a fresh code for phoneNumber, replacing any pending one,
// and sends it by SMS. The stored record is kept even when delivery fails.
// phoneNumber is used verbatim as the store key and SMS recipient.
func (s *OTPService) RequestOTP(ctx context.Context, phoneNumber string) error {
	if isBlank(phoneNumber) {
		return newError(KindValidation, MsgPhoneRequired, nil)
	}

	code, err := s.generator.Generate()
	if err != nil {
		s.logger.WithError(err).Error("Failed to generate OTP")
		return newError(KindInternal, MsgInternal, err)
	}

	hashedCode, err := bcrypt.GenerateFromPassword([]byte(code), s.cfg.HashCost)
	if err != nil {
		s.logger.WithError(err).Error("Failed to hash OTP")
		return newError(KindInternal, MsgInternal, err)
	}

	now := s.clock.Now()
	record := &models.OTPRecord{
		Phone:     phoneNumber,
		CodeHash:  string(hashedCode),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.Expiry),
	}

	if err := s.repo.Save(ctx, record); err != nil {
		s.logger.WithError(err).WithField("phone", phoneNumber).Error("Failed to store OTP")
		return newError(KindInternal, MsgInternal, err)
	}

	if err := s.sender.Send(ctx, phoneNumber, s.messageBody(code)); err != nil {
		s.logger.WithError(err).WithField("phone", phoneNumber).Warn("Failed to deliver OTP")
		return newError(KindDelivery, MsgSendFailed, err)
	}

	s.logger.WithFields(logrus.Fields{
		"phone":      phoneNumber,
		"expires_at": record.ExpiresAt,
	}).Info("OTP issued")

	return nil
}

// VerifyOTP checks code against the pending record for phoneNumber. The record
// is removed on success and on expiry; a wrong code leaves it in place.
func (s *OTPService) VerifyOTP(ctx context.Context, phoneNumber, code string) error {
	if isBlank(phoneNumber) || isBlank(code) {
		return newError(KindValidation, MsgPhoneAndOTPRequired, nil)
	}

	record, err := s.repo.Get(ctx, phoneNumber)
	if errors.Is(err, repository.ErrOTPNotFound) {
		return newError(KindNotFound, MsgNoPendingOTP, nil)
	}
	if err != nil {
		s.logger.WithError(err).WithField("phone", phoneNumber).Error("Failed to load OTP")
		return newError(KindInternal, MsgInternal, err)
	}

	if record.IsExpired(s.clock.Now()) {
		if _, err := s.repo.DeleteIfMatch(ctx, phoneNumber, record.CodeHash); err != nil {
			s.logger.WithError(err).WithField("phone", phoneNumber).Error("Failed to delete expired OTP")
			return newError(KindInternal, MsgInternal, err)
		}
		return newError(KindExpired, MsgExpired, nil)
	}

	err = bcrypt.CompareHashAndPassword([]byte(record.CodeHash), []byte(code))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		s.logger.WithField("phone", phoneNumber).Info("OTP mismatch")
		return newError(KindMismatch, MsgInvalidOTP, nil)
	}
	if err != nil {
		s.logger.WithError(err).WithField("phone", phoneNumber).Error("Stored OTP hash is unreadable")
		return newError(KindInternal, MsgInternal, err)
	}

	// Only the caller that removes the very record it checked succeeds. A code
	// issued after the read, or a concurrent verify, makes this a miss.
	removed, err := s.repo.DeleteIfMatch(ctx, phoneNumber, record.CodeHash)
	if err != nil {
		s.logger.WithError(err).WithField("phone", phoneNumber).Error("Failed to delete verified OTP")
		return newError(KindInternal, MsgInternal, err)
	}
	if !removed {
		return newError(KindNotFound, MsgNoPendingOTP, nil)
	}

	s.logger.WithField("phone", phoneNumber).Info("OTP verified")
	return nil
}

func isBlank(v string) bool {
	return strings.TrimSpace(v) == ""
}

func (s *OTPService) messageBody(code string) string {
	return fmt.Sprintf("Your OTP code is %s. It will expire in %d minutes.", code, int(s.cfg.Expiry.Minutes()))
}
