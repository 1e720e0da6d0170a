package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateOTP stores a new passcode record. ID is generated when empty.
func (db *DB) CreateOTP(ctx context.Context, otp *OTP) error {
	if otp.ID == "" {
		otp.ID = uuid.NewString()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO otps (id, household_id, code_hash, purpose, attempts, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		otp.ID, otp.HouseholdID, otp.CodeHash, otp.Purpose, otp.Attempts,
		otp.ExpiresAt.UTC(), otp.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create otp: %w", err)
	}
	return nil
}

// LatestOTP returns the most recently created passcode for a household, or
// nil when there is none. Older codes are superseded and never consulted.
func (db *DB) LatestOTP(ctx context.Context, householdID string) (*OTP, error) {
	otp := &OTP{}
	err := db.QueryRowContext(ctx,
		`SELECT id, household_id, code_hash, purpose, attempts, expires_at, consumed_at, created_at
		 FROM otps WHERE household_id = $1
		 ORDER BY created_at DESC LIMIT 1`,
		householdID,
	).Scan(&otp.ID, &otp.HouseholdID, &otp.CodeHash, &otp.Purpose, &otp.Attempts,
		&otp.ExpiresAt, &otp.ConsumedAt, &otp.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest otp: %w", err)
	}

	return otp, nil
}

// ClaimOTPAttempt counts one verification attempt against a passcode and
// returns the new count. It reports false, without counting, when the
// passcode is gone, consumed or already at max attempts. The check and the
// increment are one statement, so concurrent verifications can never claim
// more than max attempts between them.
func (db *DB) ClaimOTPAttempt(ctx context.Context, id string, max int) (int, bool, error) {
	var attempts int
	err := db.QueryRowContext(ctx,
		`UPDATE otps SET attempts = attempts + 1
		 WHERE id = $1 AND attempts < $2 AND consumed_at IS NULL
		 RETURNING attempts`,
		id, max,
	).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to claim otp attempt: %w", err)
	}
	return attempts, true, nil
}

// ConsumeOTP marks a passcode as used. It reports false when the code was
// already consumed or deleted, so a code authenticates at most once even
// under concurrent verification.
func (db *DB) ConsumeOTP(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE otps SET consumed_at = $1 WHERE id = $2 AND consumed_at IS NULL`,
		at.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to consume otp: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to consume otp: %w", err)
	}
	return n == 1, nil
}

// DeleteOTPs voids every passcode of a household.
func (db *DB) DeleteOTPs(ctx context.Context, householdID string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM otps WHERE household_id = $1`, householdID); err != nil {
		return fmt.Errorf("failed to delete otps: %w", err)
	}
	return nil
}

// PurgeOTPs deletes passcodes that expired before cutoff and returns how many
// rows went.
func (db *DB) PurgeOTPs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM otps WHERE expires_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge otps: %w", err)
	}
	return res.RowsAffected()
}
