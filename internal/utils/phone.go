package utils

import (
	"errors"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

var ErrPhoneTooShort = errors.New("phone number has fewer than 4 digits")

// NormalizePhoneNumber normalizes a phone number to E.164 format.
// Numbers without a country code are parsed in defaultRegion (ISO 3166 alpha-2).
func NormalizePhoneNumber(phone, defaultRegion string) (string, error) {
	phone = strings.TrimSpace(phone)

	num, err := phonenumbers.Parse(phone, strings.ToUpper(defaultRegion))
	if err != nil {
		return "", err
	}

	if !phonenumbers.IsValidNumber(num) {
		return "", phonenumbers.ErrNotANumber
	}

	// Format to E.164 (e.g., +40721234567)
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// Last4 returns the last four digits of a phone number, ignoring formatting.
func Last4(phone string) (string, error) {
	digits := make([]byte, 0, len(phone))
	for i := 0; i < len(phone); i++ {
		if phone[i] >= '0' && phone[i] <= '9' {
			digits = append(digits, phone[i])
		}
	}
	if len(digits) < 4 {
		return "", ErrPhoneTooShort
	}
	return string(digits[len(digits)-4:]), nil
}
