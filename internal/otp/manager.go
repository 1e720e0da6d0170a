// Package otp issues and verifies the one-time passcodes that prove a
// household controls its registered phone.
//
// Per household the latest code moves through none, pending, then verified,
// expired or exhausted. Older codes are superseded and never consulted.
package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AlexTLDR/rsvp/internal/database"
	"github.com/AlexTLDR/rsvp/internal/notify"
	"github.com/rs/zerolog"
)

var (
	ErrCooldown     = errors.New("a code was sent recently")
	ErrLocked       = errors.New("household is locked after too many attempts")
	ErrExpired      = errors.New("code expired or missing")
	ErrBadCode      = errors.New("incorrect code")
	ErrExhausted    = errors.New("too many incorrect attempts")
	ErrNotifyFailed = errors.New("failed to deliver code")
)

// Lockout policies applied when a code runs out of attempts.
const (
	// LockoutReissue lets the household request a new code after the cooldown.
	LockoutReissue = "reissue"
	// LockoutHold locks the household until an admin unlocks it or changes
	// its phone.
	LockoutHold = "hold"
)

const PurposeRSVP = "rsvp"

type Config struct {
	CodeTTL     time.Duration
	Cooldown    time.Duration
	MaxAttempts int
	Lockout     string
	SendTimeout time.Duration
}

// DefaultConfig returns the standard passcode policy.
func DefaultConfig() Config {
	return Config{
		CodeTTL:     10 * time.Minute,
		Cooldown:    60 * time.Second,
		MaxAttempts: 5,
		Lockout:     LockoutReissue,
		SendTimeout: 10 * time.Second,
	}
}

// Store is the persistence the manager needs. *database.DB implements it.
type Store interface {
	GetHousehold(ctx context.Context, id string) (*database.Household, error)
	LockHousehold(ctx context.Context, id string, at time.Time) error
	CreateOTP(ctx context.Context, otp *database.OTP) error
	LatestOTP(ctx context.Context, householdID string) (*database.OTP, error)
	ClaimOTPAttempt(ctx context.Context, id string, max int) (int, bool, error)
	ConsumeOTP(ctx context.Context, id string, at time.Time) (bool, error)
	DeleteOTPs(ctx context.Context, householdID string) error
}

type Manager struct {
	cfg     Config
	store   Store
	gateway notify.Gateway
	hasher  *Hasher
	guard   Guard
	now     func() time.Time
	log     zerolog.Logger
}

type Option func(*Manager)

// WithGuard adds an atomic cooldown claim on top of the database check.
func WithGuard(g Guard) Option {
	return func(m *Manager) { m.guard = g }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l.With().Str("component", "otp").Logger() }
}

func NewManager(cfg Config, store Store, gateway notify.Gateway, hasher *Hasher, opts ...Option) (*Manager, error) {
	switch {
	case cfg.CodeTTL <= 0, cfg.Cooldown <= 0, cfg.SendTimeout <= 0:
		return nil, fmt.Errorf("otp: durations must be positive")
	case cfg.MaxAttempts < 1:
		return nil, fmt.Errorf("otp: max attempts must be at least 1")
	case cfg.Lockout != LockoutReissue && cfg.Lockout != LockoutHold:
		return nil, fmt.Errorf("otp: unknown lockout policy %q", cfg.Lockout)
	}

	m := &Manager{
		cfg:     cfg,
		store:   store,
		gateway: gateway,
		hasher:  hasher,
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue creates a fresh code for hh and sends it to the household's phone.
//
// When delivery fails the stored code is kept and ErrNotifyFailed is
// returned, so a late-arriving message can still be used.
func (m *Manager) Issue(ctx context.Context, hh *database.Household) error {
	if hh.LockedAt.Valid {
		return ErrLocked
	}

	now := m.now().UTC()
	latest, err := m.store.LatestOTP(ctx, hh.ID)
	if err != nil {
		return fmt.Errorf("failed to issue otp: %w", err)
	}
	// Racy between concurrent requests; the guard closes the window when set.
	if latest != nil && now.Sub(latest.CreatedAt) < m.cfg.Cooldown {
		return ErrCooldown
	}

	if m.guard != nil {
		ok, err := m.guard.Acquire(ctx, hh.ID, m.cfg.Cooldown)
		if err != nil {
			return fmt.Errorf("failed to issue otp: %w", err)
		}
		if !ok {
			return ErrCooldown
		}
	}

	code, err := GenerateCode()
	if err != nil {
		m.release(ctx, hh.ID)
		return err
	}

	record := &database.OTP{
		HouseholdID: hh.ID,
		CodeHash:    m.hasher.Hash(hh.ID, code),
		Purpose:     PurposeRSVP,
		ExpiresAt:   now.Add(m.cfg.CodeTTL),
		CreatedAt:   now,
	}
	if err := m.store.CreateOTP(ctx, record); err != nil {
		// Nothing was issued, so the cooldown claim must not hold.
		m.release(ctx, hh.ID)
		return fmt.Errorf("failed to issue otp: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
	defer cancel()
	if err := m.gateway.Send(sendCtx, hh.Phone, code); err != nil {
		m.log.Warn().Err(err).Str("household_id", hh.ID).Str("last4", hh.PhoneLast4).Msg("OTP delivery failed")
		return fmt.Errorf("%w: %v", ErrNotifyFailed, err)
	}

	m.log.Info().Str("household_id", hh.ID).Str("last4", hh.PhoneLast4).Msg("OTP issued")
	return nil
}

// Verify checks code against the household's latest passcode. On success the
// passcode is consumed and cannot be used again.
func (m *Manager) Verify(ctx context.Context, householdID, code string) error {
	hh, err := m.store.GetHousehold(ctx, householdID)
	if errors.Is(err, database.ErrNotFound) {
		return ErrExpired
	}
	if err != nil {
		return fmt.Errorf("failed to verify otp: %w", err)
	}
	if hh.LockedAt.Valid {
		return ErrLocked
	}

	now := m.now().UTC()
	latest, err := m.store.LatestOTP(ctx, householdID)
	if err != nil {
		return fmt.Errorf("failed to verify otp: %w", err)
	}
	if latest == nil || latest.ConsumedAt.Valid || !now.Before(latest.ExpiresAt) {
		return ErrExpired
	}
	if latest.Attempts >= m.cfg.MaxAttempts {
		return ErrExhausted
	}

	// The attempt is counted before the code is compared.
	attempts, ok, err := m.store.ClaimOTPAttempt(ctx, latest.ID, m.cfg.MaxAttempts)
	if err != nil {
		return fmt.Errorf("failed to verify otp: %w", err)
	}
	if !ok {
		return m.unclaimed(ctx, householdID, latest.ID)
	}

	if !m.hasher.Match(latest.CodeHash, householdID, code) {
		if attempts < m.cfg.MaxAttempts {
			return ErrBadCode
		}

		m.log.Warn().Str("household_id", householdID).Int("attempts", attempts).Msg("OTP attempts exhausted")
		if m.cfg.Lockout == LockoutHold {
			if err := m.store.LockHousehold(ctx, householdID, now); err != nil {
				return fmt.Errorf("failed to verify otp: %w", err)
			}
		}
		return ErrExhausted
	}

	consumed, err := m.store.ConsumeOTP(ctx, latest.ID, now)
	if err != nil {
		return fmt.Errorf("failed to verify otp: %w", err)
	}
	if !consumed {
		return ErrExpired
	}

	m.log.Info().Str("household_id", householdID).Msg("OTP verified")
	return nil
}

// unclaimed explains a refused attempt claim: the passcode was used up by
// concurrent guesses, or it was consumed or replaced since it was read.
func (m *Manager) unclaimed(ctx context.Context, householdID, otpID string) error {
	latest, err := m.store.LatestOTP(ctx, householdID)
	if err != nil {
		return fmt.Errorf("failed to verify otp: %w", err)
	}
	if latest == nil || latest.ID != otpID || latest.ConsumedAt.Valid {
		return ErrExpired
	}
	return ErrExhausted
}

// releaser is implemented by guards that can drop a cooldown claim early.
type releaser interface {
	Release(ctx context.Context, householdID string) error
}

// release drops the household's cooldown claim on a failed issuance.
func (m *Manager) release(ctx context.Context, householdID string) {
	r, ok := m.guard.(releaser)
	if !ok {
		return
	}
	if err := r.Release(ctx, householdID); err != nil {
		m.log.Warn().Err(err).Str("household_id", householdID).Msg("Failed to release OTP cooldown claim")
	}
}

// Invalidate voids every outstanding code of a household.
func (m *Manager) Invalidate(ctx context.Context, householdID string) error {
	if err := m.store.DeleteOTPs(ctx, householdID); err != nil {
		return err
	}
	if r, ok := m.guard.(releaser); ok {
		if err := r.Release(ctx, householdID); err != nil {
			return err
		}
	}
	return nil
}
