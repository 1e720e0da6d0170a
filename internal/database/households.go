package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AlexTLDR/rsvp/internal/utils"
	"github.com/google/uuid"
)

const householdColumns = `id, label, phone, phone_last4, locked_at, created_at`

func scanHousehold(row interface{ Scan(...any) error }) (*Household, error) {
	hh := &Household{}
	err := row.Scan(&hh.ID, &hh.Label, &hh.Phone, &hh.PhoneLast4, &hh.LockedAt, &hh.CreatedAt)
	if err != nil {
		return nil, err
	}
	return hh, nil
}

// CreateHousehold creates a household. phone must already be in E.164 form;
// the last-4 projection is derived here so the two never disagree.
func (db *DB) CreateHousehold(ctx context.Context, label, phone string) (*Household, error) {
	last4, err := utils.Last4(phone)
	if err != nil {
		return nil, fmt.Errorf("failed to create household: %w", err)
	}

	id := uuid.NewString()
	_, err = db.ExecContext(ctx,
		`INSERT INTO households (id, label, phone, phone_last4, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, strings.TrimSpace(label), phone, last4, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create household: %w", err)
	}

	return db.GetHousehold(ctx, id)
}

// GetHousehold retrieves a household by ID
func (db *DB) GetHousehold(ctx context.Context, id string) (*Household, error) {
	hh, err := scanHousehold(db.QueryRowContext(ctx,
		`SELECT `+householdColumns+` FROM households WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get household: %w", err)
	}
	return hh, nil
}

// HouseholdsByLast4 returns the households among ids whose phone ends in last4.
func (db *DB) HouseholdsByLast4(ctx context.Context, ids []string, last4 string) ([]*Household, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	// $1 comes first so the numbered placeholders appear in order for sqlite.
	args := make([]any, 0, len(ids)+1)
	args = append(args, last4)
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+householdColumns+` FROM households
		 WHERE phone_last4 = $1 AND id IN (`+strings.Join(placeholders, ", ")+`)
		 ORDER BY created_at`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query households by last4: %w", err)
	}
	defer rows.Close()

	var households []*Household
	for rows.Next() {
		hh, err := scanHousehold(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan household: %w", err)
		}
		households = append(households, hh)
	}
	return households, rows.Err()
}

// ListHouseholds returns every household with its guests, newest first.
func (db *DB) ListHouseholds(ctx context.Context) ([]*HouseholdWithGuests, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+householdColumns+` FROM households ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list households: %w", err)
	}
	defer rows.Close()

	var result []*HouseholdWithGuests
	byID := make(map[string]*HouseholdWithGuests)
	for rows.Next() {
		hh, err := scanHousehold(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan household: %w", err)
		}
		hwg := &HouseholdWithGuests{Household: *hh}
		result = append(result, hwg)
		byID[hh.ID] = hwg
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list households: %w", err)
	}

	guests, err := db.listGuests(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, g := range guests {
		if hwg, ok := byID[g.HouseholdID]; ok {
			hwg.Guests = append(hwg.Guests, g)
		}
	}

	return result, nil
}

// UpdateHouseholdPhone changes a household's phone and last-4 together and
// voids every outstanding OTP for it, so a code sent to the old number can
// no longer authenticate. It also lifts any OTP lockout.
func (db *DB) UpdateHouseholdPhone(ctx context.Context, id, phone string) (*Household, error) {
	last4, err := utils.Last4(phone)
	if err != nil {
		return nil, fmt.Errorf("failed to update household phone: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE households SET phone = $1, phone_last4 = $2, locked_at = NULL WHERE id = $3`,
		phone, last4, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update household phone: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM otps WHERE household_id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to delete otps: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return db.GetHousehold(ctx, id)
}

// LockHousehold blocks OTP issuance and verification for a household until
// UnlockHousehold or a phone change.
func (db *DB) LockHousehold(ctx context.Context, id string, at time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE households SET locked_at = $1 WHERE id = $2 AND locked_at IS NULL`,
		at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to lock household: %w", err)
	}
	return nil
}

// UnlockHousehold clears a lockout and voids the household's codes.
func (db *DB) UnlockHousehold(ctx context.Context, id string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE households SET locked_at = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to unlock household: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM otps WHERE household_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete otps: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteHousehold deletes a household, its guests and its codes.
func (db *DB) DeleteHousehold(ctx context.Context, id string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Explicit deletes; sqlite only cascades with foreign_keys enabled.
	if _, err := tx.ExecContext(ctx, `DELETE FROM otps WHERE household_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete otps: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM guests WHERE household_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete guests: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM households WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete household: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
