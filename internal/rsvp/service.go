// Package rsvp runs the household verification protocol: name search, phone
// ending check, passcode, then a session scoped to one household.
package rsvp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AlexTLDR/rsvp/internal/database"
	"github.com/AlexTLDR/rsvp/internal/identity"
	"github.com/AlexTLDR/rsvp/internal/otp"
	"github.com/AlexTLDR/rsvp/internal/token"
	"github.com/rs/zerolog"
)

// Store is the persistence the service reads and writes through.
type Store interface {
	identity.GuestFinder
	identity.HouseholdFinder
	GetHousehold(ctx context.Context, id string) (*database.Household, error)
	GuestsByHousehold(ctx context.Context, householdID string) ([]*database.Guest, error)
	SetGuestRSVPs(ctx context.Context, householdID string, responses []database.RSVPResponse) error
}

// Passcodes issues and checks one-time codes. *otp.Manager implements it.
type Passcodes interface {
	Issue(ctx context.Context, hh *database.Household) error
	Verify(ctx context.Context, householdID, code string) error
}

type Service struct {
	store    Store
	resolver *identity.Resolver
	codes    Passcodes
	tokens   *token.Issuer
	deadline time.Time
	now      func() time.Time
	log      zerolog.Logger
}

type Config struct {
	// Deadline closes submissions when non-zero.
	Deadline time.Time
	Now      func() time.Time
	Logger   zerolog.Logger
}

func NewService(store Store, codes Passcodes, tokens *token.Issuer, cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    store,
		resolver: identity.NewResolver(store),
		codes:    codes,
		tokens:   tokens,
		deadline: cfg.Deadline,
		now:      now,
		log:      cfg.Logger.With().Str("component", "rsvp").Logger(),
	}
}

// Search resolves name to candidate households. It returns an empty token,
// and no error, when nothing matched.
func (s *Service) Search(ctx context.Context, name string) (string, error) {
	ids, err := s.resolver.Resolve(ctx, name)
	if errors.Is(err, identity.ErrTooFewTokens) || errors.Is(err, identity.ErrTooManyTokens) {
		return "", newError(KindBadRequest, err)
	}
	if err != nil {
		return "", newError(KindInternal, err)
	}
	if len(ids) == 0 {
		return "", nil
	}

	tok, err := s.tokens.IssueCandidates(ids)
	if err != nil {
		return "", newError(KindInternal, err)
	}
	s.log.Debug().Int("candidates", len(ids)).Msg("Name search matched")
	return tok, nil
}

// StartOTP narrows the candidates in candidateToken to one household by last4
// and sends it a code. It returns the pending token.
//
// When delivery fails the pending token is still returned together with a
// notify_failed error, since the stored code stays valid.
func (s *Service) StartOTP(ctx context.Context, candidateToken, last4 string) (string, error) {
	if !identity.ValidLast4(last4) {
		return "", newError(KindBadRequest, fmt.Errorf("last4 must be four digits"))
	}

	claims, err := s.tokens.Verify(token.KindCandidates, candidateToken)
	if err != nil {
		return "", newError(KindSearchRequired, err)
	}

	hh, err := identity.Disambiguate(ctx, s.store, claims.Candidates, last4)
	if errors.Is(err, identity.ErrNoMatch) || errors.Is(err, identity.ErrAmbiguous) {
		// Both collapse to one client-visible kind; only the log tells them apart.
		s.log.Info().Err(err).Int("candidates", len(claims.Candidates)).Msg("Phone ending not verified")
		return "", newError(KindNotVerified, err)
	}
	if err != nil {
		return "", newError(KindInternal, err)
	}

	issueErr := s.codes.Issue(ctx, hh)
	switch {
	case issueErr == nil, errors.Is(issueErr, otp.ErrNotifyFailed):
	case errors.Is(issueErr, otp.ErrCooldown):
		return "", newError(KindCooldown, issueErr)
	case errors.Is(issueErr, otp.ErrLocked):
		return "", newError(KindLocked, issueErr)
	default:
		return "", newError(KindInternal, issueErr)
	}

	pending, err := s.tokens.IssuePending(hh.ID)
	if err != nil {
		return "", newError(KindInternal, err)
	}
	if issueErr != nil {
		return pending, newError(KindNotifyFailed, issueErr)
	}
	return pending, nil
}

// VerifyOTP checks code for the household in pendingToken and returns a
// session token on success.
func (s *Service) VerifyOTP(ctx context.Context, pendingToken, code string) (string, error) {
	if !validCode(code) {
		return "", newError(KindBadRequest, fmt.Errorf("code must be six digits"))
	}

	claims, err := s.tokens.Verify(token.KindPending, pendingToken)
	if err != nil {
		return "", newError(KindOTPRequired, err)
	}

	if err := s.codes.Verify(ctx, claims.Household, code); err != nil {
		switch {
		case errors.Is(err, otp.ErrExpired):
			return "", newError(KindExpired, err)
		case errors.Is(err, otp.ErrBadCode):
			return "", newError(KindBadCode, err)
		case errors.Is(err, otp.ErrExhausted):
			return "", newError(KindTooManyAttempts, err)
		case errors.Is(err, otp.ErrLocked):
			return "", newError(KindLocked, err)
		default:
			return "", newError(KindInternal, err)
		}
	}

	session, err := s.tokens.IssueSession(claims.Household)
	if err != nil {
		return "", newError(KindInternal, err)
	}
	s.log.Info().Str("household_id", claims.Household).Msg("Household verified")
	return session, nil
}

// Authenticate returns the household a session token was issued for.
func (s *Service) Authenticate(sessionToken string) (string, error) {
	claims, err := s.tokens.Verify(token.KindSession, sessionToken)
	if err != nil {
		return "", newError(KindUnauthorized, err)
	}
	return claims.Household, nil
}

// Household returns the household and its guests. householdID must come
// from Authenticate.
func (s *Service) Household(ctx context.Context, householdID string) (*database.Household, []*database.Guest, error) {
	hh, err := s.store.GetHousehold(ctx, householdID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil, newError(KindNotFound, err)
	}
	if err != nil {
		return nil, nil, newError(KindInternal, err)
	}

	guests, err := s.store.GuestsByHousehold(ctx, householdID)
	if err != nil {
		return nil, nil, newError(KindInternal, err)
	}
	return hh, guests, nil
}

// SubmitRSVP records the answers of the household's guests. Either every
// response is applied or none is.
func (s *Service) SubmitRSVP(ctx context.Context, householdID string, responses []database.RSVPResponse) error {
	if !s.deadline.IsZero() && s.now().After(s.deadline) {
		return newError(KindDeadlinePassed, fmt.Errorf("submissions closed at %s", s.deadline.Format(time.RFC3339)))
	}

	seen := make(map[string]struct{}, len(responses))
	for _, r := range responses {
		if r.GuestID == "" {
			return newError(KindBadRequest, fmt.Errorf("response without guest id"))
		}
		if r.Status != database.RSVPYes && r.Status != database.RSVPNo {
			return newError(KindBadRequest, fmt.Errorf("invalid rsvp %q", r.Status))
		}
		if _, dup := seen[r.GuestID]; dup {
			return newError(KindBadRequest, fmt.Errorf("guest %s answered twice", r.GuestID))
		}
		seen[r.GuestID] = struct{}{}
	}
	if len(responses) == 0 {
		return nil
	}

	err := s.store.SetGuestRSVPs(ctx, householdID, responses)
	if errors.Is(err, database.ErrGuestNotInHousehold) {
		s.log.Warn().Str("household_id", householdID).Msg("Submission named a guest of another household")
		return newError(KindBadRequest, err)
	}
	if err != nil {
		return newError(KindInternal, err)
	}

	s.log.Info().Str("household_id", householdID).Int("responses", len(responses)).Msg("RSVP submitted")
	return nil
}

func validCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
