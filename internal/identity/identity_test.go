package identity_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/AlexTLDR/rsvp/internal/database/dbtest"
	"github.com/AlexTLDR/rsvp/internal/identity"
)

type finderFunc func(ctx context.Context, tokens []string, limit int) ([]string, error)

func (f finderFunc) FindGuestHouseholds(ctx context.Context, tokens []string, limit int) ([]string, error) {
	return f(ctx, tokens, limit)
}

func TestResolveTokenBounds(t *testing.T) {
	called := false
	r := identity.NewResolver(finderFunc(func(context.Context, []string, int) ([]string, error) {
		called = true
		return nil, nil
	}))

	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "empty", input: "", wantErr: identity.ErrTooFewTokens},
		{name: "one token", input: "Jane", wantErr: identity.ErrTooFewTokens},
		{name: "punctuation only", input: " -- !! ", wantErr: identity.ErrTooFewTokens},
		{name: "too many tokens", input: "a b c d e f g h i", wantErr: identity.ErrTooManyTokens},
		{name: "eight tokens", input: "a b c d e f g h", wantErr: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			_, err := r.Resolve(t.Context(), tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if called != (tt.wantErr == nil) {
				t.Errorf("store called = %v", called)
			}
		})
	}
}

func TestResolvePassesNormalizedTokens(t *testing.T) {
	var gotTokens []string
	var gotLimit int
	r := identity.NewResolver(finderFunc(func(_ context.Context, tokens []string, limit int) ([]string, error) {
		gotTokens, gotLimit = tokens, limit
		return []string{"h1", "h2", "h1", "h3", "h2"}, nil
	}))

	ids, err := r.Resolve(t.Context(), "  José-García ")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !slices.Equal(gotTokens, []string{"jose", "garcia"}) {
		t.Errorf("tokens = %v", gotTokens)
	}
	if gotLimit != identity.MaxScan {
		t.Errorf("limit = %d, want %d", gotLimit, identity.MaxScan)
	}
	if !slices.Equal(ids, []string{"h1", "h2", "h3"}) {
		t.Errorf("ids = %v, want deduplicated scan order", ids)
	}
}

func TestResolveAgainstDatabase(t *testing.T) {
	db := dbtest.New(t)
	does := dbtest.Household(t, db, "The Does", "+16502531111", "Jane Doe", "John Doe")
	dbtest.Household(t, db, "Garcia", "+16502532222", "José García")
	r := identity.NewResolver(db)

	ids, err := r.Resolve(t.Context(), "JANE doe")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !slices.Equal(ids, []string{does.ID}) {
		t.Errorf("ids = %v, want [%s]", ids, does.ID)
	}

	ids, err = r.Resolve(t.Context(), "Nobody Here")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("unknown name resolved to %v", ids)
	}
}

func TestValidLast4(t *testing.T) {
	tests := map[string]bool{
		"1234":  true,
		"0000":  true,
		"123":   false,
		"12345": false,
		"12a4":  false,
		"١٢٣٤":  false,
		"":      false,
	}
	for in, want := range tests {
		if got := identity.ValidLast4(in); got != want {
			t.Errorf("ValidLast4(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDisambiguate(t *testing.T) {
	db := dbtest.New(t)
	a := dbtest.Household(t, db, "A", "+16502531111", "Alex Popescu")
	b := dbtest.Household(t, db, "B", "+16502532222", "Alex Popescu")
	c := dbtest.Household(t, db, "C", "+40721001111", "Alex Popescu")

	tests := []struct {
		name       string
		candidates []string
		last4      string
		wantID     string
		wantErr    error
	}{
		{name: "first household", candidates: []string{a.ID, b.ID}, last4: "1111", wantID: a.ID},
		{name: "second household", candidates: []string{a.ID, b.ID}, last4: "2222", wantID: b.ID},
		{name: "no match", candidates: []string{a.ID, b.ID}, last4: "9999", wantErr: identity.ErrNoMatch},
		{name: "ambiguous", candidates: []string{a.ID, b.ID, c.ID}, last4: "1111", wantErr: identity.ErrAmbiguous},
		{name: "household outside candidates", candidates: []string{b.ID}, last4: "1111", wantErr: identity.ErrNoMatch},
		{name: "no candidates", candidates: nil, last4: "1111", wantErr: identity.ErrNoMatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hh, err := identity.Disambiguate(t.Context(), db, tt.candidates, tt.last4)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && hh.ID != tt.wantID {
				t.Errorf("household = %s, want %s", hh.ID, tt.wantID)
			}
		})
	}
}
