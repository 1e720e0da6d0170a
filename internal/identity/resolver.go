// Package identity maps a typed name to the households it could belong to and
// narrows those candidates down by the last four digits of the phone.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/AlexTLDR/rsvp/internal/names"
)

const (
	// MaxScan bounds how many matching guest rows one search looks at.
	MaxScan = 20

	minTokens = 2
	maxTokens = 8
)

var (
	ErrTooFewTokens  = errors.New("name must contain at least first and last name")
	ErrTooManyTokens = errors.New("name has too many words")
)

// GuestFinder is the read side of the guest table the resolver needs.
type GuestFinder interface {
	FindGuestHouseholds(ctx context.Context, tokens []string, limit int) ([]string, error)
}

type Resolver struct {
	guests GuestFinder
}

func NewResolver(guests GuestFinder) *Resolver {
	return &Resolver{guests: guests}
}

// Resolve returns the distinct household IDs of the guests matching name, in
// scan order. An empty result is not an error.
func (r *Resolver) Resolve(ctx context.Context, name string) ([]string, error) {
	tokens := names.Tokens(name)
	switch {
	case len(tokens) < minTokens:
		return nil, ErrTooFewTokens
	case len(tokens) > maxTokens:
		return nil, ErrTooManyTokens
	}

	ids, err := r.guests.FindGuestHouseholds(ctx, tokens, MaxScan)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve name: %w", err)
	}

	seen := make(map[string]struct{}, len(ids))
	var households []string
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		households = append(households, id)
	}
	return households, nil
}
