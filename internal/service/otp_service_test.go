package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/qcom/smsotp/internal/config"
	"github.com/qcom/smsotp/internal/models"
	"github.com/qcom/smsotp/internal/repository"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testPhone = "+15551234567"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentMessage struct {
	to   string
	body string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) Send(_ context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{to: to, body: body})
	return f.err
}

type sequenceGenerator struct {
	codes []string
	next  int
}

func (g *sequenceGenerator) Generate() (string, error) {
	code := g.codes[g.next%len(g.codes)]
	g.next++
	return code, nil
}

type failingRepo struct {
	repository.OTPRepository
	err error
}

func (r *failingRepo) Save(context.Context, *models.OTPRecord) error {
	return r.err
}

func (r *failingRepo) Get(context.Context, string) (*models.OTPRecord, error) {
	return nil, r.err
}

// interleavingRepo runs afterGet once, right after the first Get returns, to
// land another request between a verify's read and its delete.
type interleavingRepo struct {
	*repository.MemoryOTPRepository
	afterGet func()
}

func (r *interleavingRepo) Get(ctx context.Context, phoneNumber string) (*models.OTPRecord, error) {
	record, err := r.MemoryOTPRepository.Get(ctx, phoneNumber)
	if hook := r.afterGet; hook != nil {
		r.afterGet = nil
		hook()
	}
	return record, err
}

type fixture struct {
	svc    *OTPService
	repo   *repository.MemoryOTPRepository
	sender *fakeSender
	clock  *fakeClock
}

func newFixture(t *testing.T, ttl time.Duration, codes ...string) *fixture {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	clk := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	repo := repository.NewMemoryOTPRepository(time.Hour, clk, logger)
	sender := &fakeSender{}
	cfg := &config.OTPConfig{Expiry: ttl, HashCost: bcrypt.MinCost}

	var gen Generator = CryptoGenerator{}
	if len(codes) > 0 {
		gen = &sequenceGenerator{codes: codes}
	}

	return &fixture{
		svc:    NewOTPService(repo, sender, gen, clk, cfg, logger),
		repo:   repo,
		sender: sender,
		clock:  clk,
	}
}

func requireKind(t *testing.T, err error, kind Kind, msg string) {
	t.Helper()

	var svcErr *Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, kind, svcErr.Kind)
	assert.Equal(t, msg, svcErr.Message)
}

func TestRequestThenVerifySucceedsOnce(t *testing.T) {
	f := newFixture(t, time.Minute, "482913")
	ctx := context.Background()

	require.NoError(t, f.svc.RequestOTP(ctx, testPhone))
	require.NoError(t, f.svc.VerifyOTP(ctx, testPhone, "482913"))

	err := f.svc.VerifyOTP(ctx, testPhone, "482913")
	requireKind(t, err, KindNotFound, MsgNoPendingOTP)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerifyWithoutRequest(t *testing.T) {
	f := newFixture(t, time.Minute)

	err := f.svc.VerifyOTP(context.Background(), testPhone, "123456")
	requireKind(t, err, KindNotFound, MsgNoPendingOTP)
}

func TestWrongCodeKeepsRecord(t *testing.T) {
	f := newFixture(t, time.Minute, "482913")
	ctx := context.Background()

	require.NoError(t, f.svc.RequestOTP(ctx, testPhone))

	for i := 0; i < 5; i++ {
		err := f.svc.VerifyOTP(ctx, testPhone, "000000")
		requireKind(t, err, KindMismatch, MsgInvalidOTP)
	}
	assert.Equal(t, 1, f.repo.Len())

	require.NoError(t, f.svc.VerifyOTP(ctx, testPhone, "482913"))
	assert.Equal(t, 0, f.repo.Len())
}

func TestExpiredCodeIsRemoved(t *testing.T) {
	f := newFixture(t, time.Minute, "482913")
	ctx := context.Background()

	require.NoError(t, f.svc.RequestOTP(ctx, testPhone))
	f.clock.Advance(time.Minute + time.Second)

	err := f.svc.VerifyOTP(ctx, testPhone, "482913")
	requireKind(t, err, KindExpired, MsgExpired)
	assert.Equal(t, 0, f.repo.Len())

	err = f.svc.VerifyOTP(ctx, testPhone, "482913")
	requireKind(t, err, KindNotFound, MsgNoPendingOTP)
}

func TestExpiryBoundaryIsInclusive(t *testing.T) {
	f := newFixture(t, time.Minute, "482913")
	ctx := context.Background()

	require.NoError(t, f.svc.RequestOTP(ctx, testPhone))
	f.clock.Advance(time.Minute)

	assert.NoError(t, f.svc.VerifyOTP(ctx, testPhone, "482913"))
}

func TestNewRequestOverwritesPendingCode(t *testing.T) {
	f := newFixture(t, time.Minute, "111111", "222222")
	ctx := context.Background()

	require.NoError(t, f.svc.RequestOTP(ctx, testPhone))
	require.NoError(t, f.svc.RequestOTP(ctx, testPhone))
	assert.Equal(t, 1, f.repo.Len())

	err := f.svc.VerifyOTP(ctx, testPhone, "111111")
	requireKind(t, err, KindMismatch, MsgInvalidOTP)

	require.NoError(t, f.svc.VerifyOTP(ctx, testPhone, "222222"))
}

func TestVerifyTimeline(t *testing.T) {
	f := newFixture(t, time.Minute, "482913")
	ctx := context.Background()

	require.NoError(t, f.svc.RequestOTP(ctx, testPhone))

	record, err := f.repo.Get(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(time.Minute), record.ExpiresAt)

	f.clock.Advance(10 * time.Second)
	err = f.svc.VerifyOTP(ctx, testPhone, "000000")
	requireKind(t, err, KindMismatch, MsgInvalidOTP)

	f.clock.Advance(20 * time.Second)
	require.NoError(t, f.svc.VerifyOTP(ctx, testPhone, "482913"))

	f.clock.Advance(time.Second)
	err = f.svc.VerifyOTP(ctx, testPhone, "482913")
	requireKind(t, err, KindNotFound, MsgNoPendingOTP)
}

func TestRequestSendsMessage(t *testing.T) {
	f := newFixture(t, 5*time.Minute, "482913")

	require.NoError(t, f.svc.RequestOTP(context.Background(), testPhone))

	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, testPhone, f.sender.sent[0].to)
	assert.Equal(t, "Your OTP code is 482913. It will expire in 5 minutes.", f.sender.sent[0].body)

	record, err := f.repo.Get(context.Background(), testPhone)
	require.NoError(t, err)
	assert.NotEqual(t, "482913", record.CodeHash, "code must not be stored in clear text")
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t, time.Minute)

	for _, phone := range []string{"", "   "} {
		err := f.svc.RequestOTP(context.Background(), phone)
		requireKind(t, err, KindValidation, MsgPhoneRequired)
		assert.Equal(t, 400, err.(*Error).StatusCode())
	}
	assert.Empty(t, f.sender.sent)
	assert.Equal(t, 0, f.repo.Len())
}

func TestVerifyValidation(t *testing.T) {
	f := newFixture(t, time.Minute)

	tests := []struct {
		phone string
		code  string
	}{
		{phone: "", code: "123456"},
		{phone: testPhone, code: ""},
		{phone: "", code: ""},
		{phone: "  ", code: "123456"},
		{phone: testPhone, code: "\t "},
	}

	for _, tt := range tests {
		err := f.svc.VerifyOTP(context.Background(), tt.phone, tt.code)
		requireKind(t, err, KindValidation, MsgPhoneAndOTPRequired)
	}
}

func TestDeliveryFailureKeepsRecord(t *testing.T) {
	f := newFixture(t, time.Minute, "482913")
	f.sender.err = errors.New("twilio: status 401")
	ctx := context.Background()

	err := f.svc.RequestOTP(ctx, testPhone)
	requireKind(t, err, KindDelivery, MsgSendFailed)
	assert.ErrorIs(t, err, f.sender.err)
	assert.Equal(t, 500, err.(*Error).StatusCode())
	assert.Len(t, f.sender.sent, 1, "delivery is attempted exactly once")

	require.NoError(t, f.svc.VerifyOTP(ctx, testPhone, "482913"))
}

func TestStorageFailureIsInternal(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	storeErr := errors.New("connection refused")
	sender := &fakeSender{}

	svc := NewOTPService(
		&failingRepo{err: storeErr},
		sender,
		&sequenceGenerator{codes: []string{"482913"}},
		&fakeClock{now: time.Now()},
		&config.OTPConfig{Expiry: time.Minute, HashCost: bcrypt.MinCost},
		logger,
	)

	err := svc.RequestOTP(context.Background(), testPhone)
	requireKind(t, err, KindInternal, MsgInternal)
	assert.ErrorIs(t, err, storeErr)
	assert.Empty(t, sender.sent, "no SMS when the code could not be stored")

	err = svc.VerifyOTP(context.Background(), testPhone, "482913")
	requireKind(t, err, KindInternal, MsgInternal)
}

func TestConcurrentVerifySucceedsOnce(t *testing.T) {
	f := newFixture(t, time.Minute, "482913")
	ctx := context.Background()
	require.NoError(t, f.svc.RequestOTP(ctx, testPhone))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.svc.VerifyOTP(ctx, testPhone, "482913"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func newInterleavingService(f *fixture, ttl time.Duration, codes ...string) (*OTPService, *interleavingRepo) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	repo := &interleavingRepo{MemoryOTPRepository: f.repo}
	svc := NewOTPService(
		repo,
		f.sender,
		&sequenceGenerator{codes: codes},
		f.clock,
		&config.OTPConfig{Expiry: ttl, HashCost: bcrypt.MinCost},
		logger,
	)
	return svc, repo
}

func TestVerifyKeepsCodeIssuedDuringVerify(t *testing.T) {
	f := newFixture(t, time.Minute)
	svc, repo := newInterleavingService(f, time.Minute, "111111", "222222")
	ctx := context.Background()

	require.NoError(t, svc.RequestOTP(ctx, testPhone))
	repo.afterGet = func() {
		require.NoError(t, svc.RequestOTP(ctx, testPhone))
	}

	// The old code matched what was read, but that record is gone by the
	// time it would be consumed.
	err := svc.VerifyOTP(ctx, testPhone, "111111")
	requireKind(t, err, KindNotFound, MsgNoPendingOTP)
	assert.Equal(t, 1, f.repo.Len())

	require.NoError(t, svc.VerifyOTP(ctx, testPhone, "222222"))
	assert.Equal(t, 0, f.repo.Len())
}

func TestExpiredVerifyKeepsCodeIssuedDuringVerify(t *testing.T) {
	f := newFixture(t, time.Minute)
	svc, repo := newInterleavingService(f, time.Minute, "111111", "222222")
	ctx := context.Background()

	require.NoError(t, svc.RequestOTP(ctx, testPhone))
	f.clock.Advance(2 * time.Minute)
	repo.afterGet = func() {
		require.NoError(t, svc.RequestOTP(ctx, testPhone))
	}

	err := svc.VerifyOTP(ctx, testPhone, "111111")
	requireKind(t, err, KindExpired, MsgExpired)
	assert.Equal(t, 1, f.repo.Len())

	require.NoError(t, svc.VerifyOTP(ctx, testPhone, "222222"))
}

func TestPhoneNumberIsKeyedVerbatim(t *testing.T) {
	f := newFixture(t, time.Minute, "111111", "222222")
	ctx := context.Background()
	padded := " " + testPhone

	require.NoError(t, f.svc.RequestOTP(ctx, padded))
	require.NoError(t, f.svc.RequestOTP(ctx, testPhone))
	assert.Equal(t, 2, f.repo.Len())

	require.Len(t, f.sender.sent, 2)
	assert.Equal(t, padded, f.sender.sent[0].to)

	err := f.svc.VerifyOTP(ctx, testPhone, "111111")
	requireKind(t, err, KindMismatch, MsgInvalidOTP)

	require.NoError(t, f.svc.VerifyOTP(ctx, padded, "111111"))
	require.NoError(t, f.svc.VerifyOTP(ctx, testPhone, "222222"))
}

func TestCodeIsComparedVerbatim(t *testing.T) {
	f := newFixture(t, time.Minute, "482913")
	ctx := context.Background()

	require.NoError(t, f.svc.RequestOTP(ctx, testPhone))

	err := f.svc.VerifyOTP(ctx, testPhone, " 482913 ")
	requireKind(t, err, KindMismatch, MsgInvalidOTP)

	require.NoError(t, f.svc.VerifyOTP(ctx, testPhone, "482913"))
}
