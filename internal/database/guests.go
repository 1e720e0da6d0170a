package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AlexTLDR/rsvp/internal/names"
	"github.com/google/uuid"
)

// ErrGuestNotInHousehold is returned when a submission names a guest that
// does not belong to the submitting household. Nothing is applied.
var ErrGuestNotInHousehold = errors.New("guest does not belong to household")

const guestColumns = `g.id, g.household_id, g.first_name, g.last_name, g.display_name, g.rsvp_status, g.updated_at, g.created_at`

func scanGuest(row interface{ Scan(...any) error }, extra ...any) (*Guest, error) {
	g := &Guest{}
	dest := append([]any{&g.ID, &g.HouseholdID, &g.FirstName, &g.LastName, &g.DisplayName,
		&g.RSVPStatus, &g.UpdatedAt, &g.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return g, nil
}

// SplitFullName splits a display name into first name and the remainder.
func SplitFullName(fullName string) (first, last string) {
	parts := strings.Fields(fullName)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// CreateGuest adds a guest to a household. The normalized name columns used
// by the name search are written in the same statement.
func (db *DB) CreateGuest(ctx context.Context, householdID, fullName string) (*Guest, error) {
	fullName = strings.Join(strings.Fields(fullName), " ")
	if fullName == "" {
		return nil, fmt.Errorf("failed to create guest: empty name")
	}
	first, last := SplitFullName(fullName)
	now := time.Now().UTC()
	id := uuid.NewString()

	_, err := db.ExecContext(ctx,
		`INSERT INTO guests (id, household_id, first_name, last_name, display_name,
		                     first_name_norm, last_name_norm, display_name_norm, updated_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, householdID, first, last, fullName,
		names.Normalize(first), names.Normalize(last), names.Normalize(fullName), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create guest: %w", err)
	}

	return db.GetGuest(ctx, id)
}

// GetGuest retrieves a guest by ID
func (db *DB) GetGuest(ctx context.Context, id string) (*Guest, error) {
	g, err := scanGuest(db.QueryRowContext(ctx,
		`SELECT `+guestColumns+` FROM guests g WHERE g.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get guest: %w", err)
	}
	return g, nil
}

// FindGuestHouseholds returns the household IDs of up to limit guest rows
// where every token is a substring of the guest's normalized first, last or
// display name. Tokens must already be normalized. IDs repeat when several
// guests of one household match.
func (db *DB) FindGuestHouseholds(ctx context.Context, tokens []string, limit int) ([]string, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	conds := make([]string, len(tokens))
	args := make([]any, 0, len(tokens)+1)
	for i, tok := range tokens {
		p := fmt.Sprintf("$%d", i+1)
		conds[i] = fmt.Sprintf("(g.first_name_norm LIKE %[1]s OR g.last_name_norm LIKE %[1]s OR g.display_name_norm LIKE %[1]s)", p)
		args = append(args, "%"+tok+"%")
	}
	args = append(args, limit)

	rows, err := db.QueryContext(ctx,
		`SELECT g.household_id FROM guests g
		 WHERE `+strings.Join(conds, " AND ")+`
		 ORDER BY g.created_at
		 LIMIT `+fmt.Sprintf("$%d", len(tokens)+1),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search guests: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan guest: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GuestsByHousehold returns a household's guests in creation order.
func (db *DB) GuestsByHousehold(ctx context.Context, householdID string) ([]*Guest, error) {
	return db.listGuests(ctx, householdID)
}

// SetGuestRSVPs applies a household's answers in one transaction. Every
// guest must belong to householdID; otherwise nothing is written and
// ErrGuestNotInHousehold is returned.
func (db *DB) SetGuestRSVPs(ctx context.Context, householdID string, responses []RSVPResponse) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, r := range responses {
		res, err := tx.ExecContext(ctx,
			`UPDATE guests SET rsvp_status = $1, updated_at = $2 WHERE id = $3 AND household_id = $4`,
			r.Status, now, r.GuestID, householdID,
		)
		if err != nil {
			return fmt.Errorf("failed to update guest rsvp: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to update guest rsvp: %w", err)
		}
		if n == 0 {
			return ErrGuestNotInHousehold
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateGuestRSVP sets one guest's status. An empty status clears the answer.
func (db *DB) UpdateGuestRSVP(ctx context.Context, id, status string) (*Guest, error) {
	var value any
	if status != "" {
		value = status
	}

	res, err := db.ExecContext(ctx,
		`UPDATE guests SET rsvp_status = $1, updated_at = $2 WHERE id = $3`,
		value, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update guest rsvp: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return db.GetGuest(ctx, id)
}

// DeleteGuest deletes a guest
func (db *DB) DeleteGuest(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM guests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete guest: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListGuests returns guests joined with their household label. search
// matches the guest's name or the household label; status is one of "yes",
// "no", "pending" or "" for all.
func (db *DB) ListGuests(ctx context.Context, search, status string) ([]*GuestWithHousehold, error) {
	var conds []string
	var args []any

	switch status {
	case RSVPYes, RSVPNo:
		args = append(args, status)
		conds = append(conds, fmt.Sprintf("g.rsvp_status = $%d", len(args)))
	case "pending":
		conds = append(conds, "g.rsvp_status IS NULL")
	}

	if q := names.Normalize(search); q != "" {
		args = append(args, "%"+q+"%")
		conds = append(conds, fmt.Sprintf("(g.display_name_norm LIKE $%[1]d OR LOWER(h.label) LIKE $%[1]d)", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+guestColumns+`, h.label FROM guests g
		 JOIN households h ON h.id = g.household_id
		 `+where+`
		 ORDER BY g.household_id, g.last_name, g.first_name`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list guests: %w", err)
	}
	defer rows.Close()

	var result []*GuestWithHousehold
	for rows.Next() {
		var label string
		g, err := scanGuest(rows, &label)
		if err != nil {
			return nil, fmt.Errorf("failed to scan guest: %w", err)
		}
		result = append(result, &GuestWithHousehold{Guest: *g, HouseholdLabel: label})
	}
	return result, rows.Err()
}

// listGuests returns the guests of one household, or of all households when
// householdID is empty, in creation order.
func (db *DB) listGuests(ctx context.Context, householdID string) ([]*Guest, error) {
	query := `SELECT ` + guestColumns + ` FROM guests g`
	var args []any
	if householdID != "" {
		query += ` WHERE g.household_id = $1`
		args = append(args, householdID)
	}
	query += ` ORDER BY g.created_at, g.id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get guests: %w", err)
	}
	defer rows.Close()

	var guests []*Guest
	for rows.Next() {
		g, err := scanGuest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan guest: %w", err)
		}
		guests = append(guests, g)
	}
	return guests, rows.Err()
}

// GetSummary counts households and guests by answer.
func (db *DB) GetSummary(ctx context.Context) (*Summary, error) {
	s := &Summary{}
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM households`).Scan(&s.Households)
	if err != nil {
		return nil, fmt.Errorf("failed to count households: %w", err)
	}

	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN rsvp_status = 'yes' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN rsvp_status = 'no' THEN 1 ELSE 0 END), 0)
		 FROM guests`,
	).Scan(&s.TotalGuests, &s.Yes, &s.No)
	if err != nil {
		return nil, fmt.Errorf("failed to count guests: %w", err)
	}

	s.Pending = s.TotalGuests - s.Yes - s.No
	return s, nil
}
