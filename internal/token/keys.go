package token

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key labels. Each use of the master secret gets an independent key.
const (
	LabelCookieMAC = "rsvp cookie mac v1"
	LabelCookieEnc = "rsvp cookie enc v1"
	LabelJWT       = "rsvp jwt hs256 v1"
	LabelOTPPepper = "rsvp otp pepper v1"
)

// DeriveKey expands the master secret into a size-byte key for label.
func DeriveKey(secret, label string, size int) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("empty secret")
	}
	key := make([]byte, size)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(label))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive %q key: %w", label, err)
	}
	return key, nil
}
