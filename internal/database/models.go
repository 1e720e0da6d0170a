package database

import (
	"database/sql"
	"time"
)

// RSVP statuses stored in guests.rsvp_status. NULL means no answer yet.
const (
	RSVPYes = "yes"
	RSVPNo  = "no"
)

type Household struct {
	ID         string
	Label      string
	Phone      string
	PhoneLast4 string
	LockedAt   sql.NullTime
	CreatedAt  time.Time
}

type Guest struct {
	ID          string
	HouseholdID string
	FirstName   string
	LastName    string
	DisplayName string
	RSVPStatus  sql.NullString
	UpdatedAt   time.Time
	CreatedAt   time.Time
}

type HouseholdWithGuests struct {
	Household
	Guests []*Guest
}

// GuestWithHousehold is a guest row joined with its household label, used by
// the admin listing and CSV export.
type GuestWithHousehold struct {
	Guest
	HouseholdLabel string
}

// OTP is a stored one-time passcode. Only the hash of the code is kept.
type OTP struct {
	ID          string
	HouseholdID string
	CodeHash    string
	Purpose     string
	Attempts    int
	ExpiresAt   time.Time
	ConsumedAt  sql.NullTime
	CreatedAt   time.Time
}

// RSVPResponse is one guest's answer in a household submission.
type RSVPResponse struct {
	GuestID string
	Status  string
}

type Summary struct {
	Households  int
	TotalGuests int
	Yes         int
	No          int
	Pending     int
}
