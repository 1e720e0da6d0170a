package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type jwtClaims struct {
	Kind       Kind     `json:"knd"`
	Candidates []string `json:"c,omitempty"`
	Household  string   `json:"hh,omitempty"`
	jwt.RegisteredClaims
}

// JWTCodec encodes claims as HS256 JSON Web Tokens, for clients that carry
// the session as a bearer token instead of a cookie.
type JWTCodec struct {
	key []byte
	now func() time.Time
}

func NewJWTCodec(secret string, now func() time.Time) (*JWTCodec, error) {
	key, err := DeriveKey(secret, LabelJWT, 32)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &JWTCodec{key: key, now: now}, nil
}

func (c *JWTCodec) Encode(kind Kind, claims Claims) (string, error) {
	jc := jwtClaims{
		Kind:       kind,
		Candidates: claims.Candidates,
		Household:  claims.Household,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Unix(claims.ExpiresAt, 0)),
			IssuedAt:  jwt.NewNumericDate(c.now()),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jc).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("jwt sign: %w", err)
	}
	return s, nil
}

func (c *JWTCodec) Decode(kind Kind, tok string) (Claims, error) {
	var jc jwtClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	parsed, err := parser.ParseWithClaims(tok, &jc, func(*jwt.Token) (any, error) {
		return c.key, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, fmt.Errorf("jwt parse: %w", err)
	}
	if jc.Kind != kind {
		return Claims{}, fmt.Errorf("jwt kind %q, want %q", jc.Kind, kind)
	}
	return Claims{
		Kind:       jc.Kind,
		Candidates: jc.Candidates,
		Household:  jc.Household,
		ExpiresAt:  jc.ExpiresAt.Unix(),
	}, nil
}

// NewCodec builds the codec named by format ("securecookie" or "jwt").
func NewCodec(format, secret string, now func() time.Time) (Codec, error) {
	switch format {
	case "securecookie", "":
		return NewSecureCookieCodec(secret)
	case "jwt":
		return NewJWTCodec(secret, now)
	}
	return nil, fmt.Errorf("unknown token format %q", format)
}
