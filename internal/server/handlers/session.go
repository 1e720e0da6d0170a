package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/AlexTLDR/rsvp/internal/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

type householdKey struct{}

// HouseholdID returns the household of the verified session on the request.
func HouseholdID(ctx context.Context) string {
	id, _ := ctx.Value(householdKey{}).(string)
	return id
}

// readToken returns the token of the given kind from its cookie, or from an
// Authorization: Bearer header when no cookie is present.
func readToken(r *http.Request, kind token.Kind) string {
	if c, err := r.Cookie(string(kind)); err == nil && c.Value != "" {
		return c.Value
	}
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// RequireSession rejects requests without a valid household session and puts
// the session's household ID on the context. It is the only source of the
// household ID for household-scoped handlers.
func RequireSession(s Server, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		householdID, err := s.GetRSVP().Authenticate(readToken(r, token.KindSession))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("household_id", householdID)
		})
		next(w, r.WithContext(context.WithValue(r.Context(), householdKey{}, householdID)))
	}
}
