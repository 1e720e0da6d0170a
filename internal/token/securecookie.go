package token

import (
	"fmt"

	"github.com/gorilla/securecookie"
)

// SecureCookieCodec authenticates and encrypts claims with gorilla/securecookie.
// The kind is used as the cookie name, which securecookie includes in the MAC.
type SecureCookieCodec struct {
	sc *securecookie.SecureCookie
}

func NewSecureCookieCodec(secret string) (*SecureCookieCodec, error) {
	hashKey, err := DeriveKey(secret, LabelCookieMAC, 64)
	if err != nil {
		return nil, err
	}
	blockKey, err := DeriveKey(secret, LabelCookieEnc, 32)
	if err != nil {
		return nil, err
	}

	sc := securecookie.New(hashKey, blockKey)
	sc.SetSerializer(securecookie.JSONEncoder{})
	// Expiry is enforced by Issuer against the claims. This bound only keeps
	// securecookie's own timestamp check from rejecting long-lived sessions.
	sc.MaxAge(int(SessionTTL.Seconds()) + 60)

	return &SecureCookieCodec{sc: sc}, nil
}

func (c *SecureCookieCodec) Encode(kind Kind, claims Claims) (string, error) {
	s, err := c.sc.Encode(string(kind), claims)
	if err != nil {
		return "", fmt.Errorf("securecookie encode: %w", err)
	}
	return s, nil
}

func (c *SecureCookieCodec) Decode(kind Kind, tok string) (Claims, error) {
	var claims Claims
	if err := c.sc.Decode(string(kind), tok, &claims); err != nil {
		return Claims{}, fmt.Errorf("securecookie decode: %w", err)
	}
	return claims, nil
}
