package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"

	"golang.org/x/crypto/blake2b"
)

const codeDigits = 6

var codeSpace = big.NewInt(1_000_000)

// GenerateCode returns a uniformly random six digit code, leading zeros kept.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

// Hasher hashes codes with keyed BLAKE2b-256. The household ID is mixed in
// so equal codes of different households hash differently.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher keyed with pepper, which must be 1 to 64 bytes.
func NewHasher(pepper []byte) (*Hasher, error) {
	if len(pepper) == 0 || len(pepper) > blake2b.Size {
		return nil, fmt.Errorf("otp pepper must be 1 to %d bytes, got %d", blake2b.Size, len(pepper))
	}
	return &Hasher{key: pepper}, nil
}

func (h *Hasher) Hash(householdID, code string) string {
	mac, err := blake2b.New256(h.key)
	if err != nil {
		// Key length is checked in NewHasher.
		panic(err)
	}
	mac.Write([]byte(householdID))
	mac.Write([]byte{':'})
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

// Match compares in constant time.
func (h *Hasher) Match(hash, householdID, code string) bool {
	return subtle.ConstantTimeCompare([]byte(hash), []byte(h.Hash(householdID, code))) == 1
}
