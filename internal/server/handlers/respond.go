package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/AlexTLDR/rsvp/internal/config"
	"github.com/AlexTLDR/rsvp/internal/database"
	"github.com/AlexTLDR/rsvp/internal/i18n"
	"github.com/AlexTLDR/rsvp/internal/otp"
	"github.com/AlexTLDR/rsvp/internal/rsvp"
	"github.com/rs/zerolog/hlog"
)

// Server interface defines the methods needed by handlers
type Server interface {
	GetDB() *database.DB
	GetConfig() *config.Config
	GetRSVP() *rsvp.Service
	GetOTP() *otp.Manager
}

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError reports err as {"error": kind, "message": text}. extra fields
// are merged into the body.
func writeError(w http.ResponseWriter, r *http.Request, err error, extra map[string]any) {
	kind := rsvp.KindOf(err)

	logger := hlog.FromRequest(r)
	if kind == rsvp.KindInternal {
		logger.Error().Err(err).Msg("Request failed")
	} else {
		logger.Info().Err(err).Str("kind", string(kind)).Msg("Request rejected")
	}

	WriteErrorKind(w, r, kind, extra)
}

// WriteErrorKind writes the localized error body for kind.
func WriteErrorKind(w http.ResponseWriter, r *http.Request, kind rsvp.Kind, extra map[string]any) {
	body := map[string]any{
		"error":   kind,
		"message": i18n.Message(i18n.GetLanguageFromRequest(r), string(kind)),
	}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, kind.Status(), body)
}

func badRequest(err error) error {
	return &rsvp.Error{Kind: rsvp.KindBadRequest, Err: err}
}

// RequireJSON rejects requests whose body is not declared as JSON. A
// cross-site form cannot send application/json without a CORS preflight.
func RequireJSON(r *http.Request) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return badRequest(errors.New("content type must be application/json"))
	}
	return nil
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	if err := RequireJSON(r); err != nil {
		return err
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest(err)
	}
	return nil
}

// setCookie writes a token cookie living as long as the token.
func setCookie(w http.ResponseWriter, cfg *config.Config, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Production(),
		SameSite: cfg.CookieSameSite,
	})
}

func clearCookie(w http.ResponseWriter, cfg *config.Config, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Production(),
		SameSite: cfg.CookieSameSite,
	})
}
