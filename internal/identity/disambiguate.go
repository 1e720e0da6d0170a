package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/AlexTLDR/rsvp/internal/database"
)

var (
	ErrNoMatch   = errors.New("no candidate household has that phone ending")
	ErrAmbiguous = errors.New("several candidate households share that phone ending")
)

// HouseholdFinder filters households by the last four digits of their phone.
type HouseholdFinder interface {
	HouseholdsByLast4(ctx context.Context, ids []string, last4 string) ([]*database.Household, error)
}

// ValidLast4 reports whether s is exactly four ASCII digits.
func ValidLast4(s string) bool {
	if len(s) != 4 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Disambiguate picks the one candidate household whose phone ends in last4.
// last4 must already satisfy ValidLast4.
func Disambiguate(ctx context.Context, store HouseholdFinder, candidates []string, last4 string) (*database.Household, error) {
	if len(candidates) == 0 {
		return nil, ErrNoMatch
	}

	matches, err := store.HouseholdsByLast4(ctx, candidates, last4)
	if err != nil {
		return nil, fmt.Errorf("failed to disambiguate: %w", err)
	}

	switch len(matches) {
	case 0:
		return nil, ErrNoMatch
	case 1:
		return matches[0], nil
	default:
		return nil, ErrAmbiguous
	}
}
