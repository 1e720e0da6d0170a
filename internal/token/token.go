// Package token issues and verifies the signed, expiring claims that carry
// verification state between otherwise stateless requests.
//
// Three kinds of token exist. A candidates token holds the households a
// name search matched, a pending token holds the single household an OTP was
// sent to, and a session token proves the holder verified that household.
// The server keeps no record of issued tokens; everything it needs to trust
// is inside the signed claims.
package token

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalid is the only failure Verify reports. Malformed, forged, expired
// and wrong-kind tokens are indistinguishable to callers.
var ErrInvalid = errors.New("invalid token")

// Kind names what a token is for. It is bound into the signature.
type Kind string

const (
	KindCandidates Kind = "rv_cand"
	KindPending    Kind = "rv_otp"
	KindSession    Kind = "rv_sess"
)

const (
	CandidatesTTL = 10 * time.Minute
	PendingTTL    = 10 * time.Minute
	SessionTTL    = 7 * 24 * time.Hour
)

// Claims is the signed payload. Exactly one of Candidates or Household is
// set depending on the kind.
type Claims struct {
	Kind       Kind     `json:"knd"`
	Candidates []string `json:"c,omitempty"`
	Household  string   `json:"hh,omitempty"`
	ExpiresAt  int64    `json:"exp"`
}

// Codec turns claims into an opaque string and back, authenticating the
// content. Decode must fail for any string Encode did not produce with the
// same key and kind.
type Codec interface {
	Encode(kind Kind, c Claims) (string, error)
	Decode(kind Kind, token string) (Claims, error)
}

// Issuer stamps expiry on claims and enforces it on the way back in.
type Issuer struct {
	codec Codec
	now   func() time.Time
}

func NewIssuer(codec Codec, now func() time.Time) *Issuer {
	if now == nil {
		now = time.Now
	}
	return &Issuer{codec: codec, now: now}
}

// Issue signs claims of the given kind valid for ttl from now.
func (i *Issuer) Issue(kind Kind, c Claims, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("invalid ttl %v for %s token", ttl, kind)
	}
	c.Kind = kind
	c.ExpiresAt = i.now().Add(ttl).Unix()
	tok, err := i.codec.Encode(kind, c)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s token: %w", kind, err)
	}
	return tok, nil
}

// Verify returns the claims of a valid, unexpired token of the given kind.
func (i *Issuer) Verify(kind Kind, tok string) (Claims, error) {
	if tok == "" {
		return Claims{}, ErrInvalid
	}
	c, err := i.codec.Decode(kind, tok)
	if err != nil {
		return Claims{}, ErrInvalid
	}
	if c.Kind != kind || i.now().Unix() >= c.ExpiresAt {
		return Claims{}, ErrInvalid
	}
	switch kind {
	case KindCandidates:
		if len(c.Candidates) == 0 {
			return Claims{}, ErrInvalid
		}
	default:
		if c.Household == "" {
			return Claims{}, ErrInvalid
		}
	}
	return c, nil
}

func (i *Issuer) IssueCandidates(householdIDs []string) (string, error) {
	return i.Issue(KindCandidates, Claims{Candidates: householdIDs}, CandidatesTTL)
}

func (i *Issuer) IssuePending(householdID string) (string, error) {
	return i.Issue(KindPending, Claims{Household: householdID}, PendingTTL)
}

// IssueSession mints the long-lived credential for a verified household.
func (i *Issuer) IssueSession(householdID string) (string, error) {
	return i.Issue(KindSession, Claims{Household: householdID}, SessionTTL)
}
