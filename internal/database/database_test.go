package database_test

import (
	"errors"
	"testing"
	"time"

	"github.com/AlexTLDR/rsvp/internal/database"
	"github.com/AlexTLDR/rsvp/internal/database/dbtest"
)

func TestCreateHouseholdDerivesLast4(t *testing.T) {
	db := dbtest.New(t)

	hh, err := db.CreateHousehold(t.Context(), " The Does ", "+16502534321")
	if err != nil {
		t.Fatalf("CreateHousehold: %v", err)
	}
	if hh.Label != "The Does" {
		t.Errorf("Label = %q, want %q", hh.Label, "The Does")
	}
	if hh.PhoneLast4 != "4321" {
		t.Errorf("PhoneLast4 = %q, want 4321", hh.PhoneLast4)
	}
	if hh.LockedAt.Valid {
		t.Error("new household should not be locked")
	}
}

func TestFindGuestHouseholds(t *testing.T) {
	db := dbtest.New(t)
	does := dbtest.Household(t, db, "The Does", "+16502534321", "Jane Doe", "John Doe")
	garcia := dbtest.Household(t, db, "Garcia", "+16502531111", "José García")
	dbtest.Household(t, db, "Smith", "+16502532222", "Jane Smith")

	tests := []struct {
		name   string
		tokens []string
		want   []string
	}{
		{name: "full name", tokens: []string{"jane", "doe"}, want: []string{does.ID}},
		{name: "substring tokens", tokens: []string{"jo", "doe"}, want: []string{does.ID}},
		{name: "accent-insensitive", tokens: []string{"jose", "garcia"}, want: []string{garcia.ID}},
		{name: "every token must match", tokens: []string{"jane", "garcia"}, want: nil},
		{name: "two guests of one household", tokens: []string{"j", "doe"}, want: []string{does.ID, does.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.FindGuestHouseholds(t.Context(), tt.tokens, 20)
			if err != nil {
				t.Fatalf("FindGuestHouseholds: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}

	limited, err := db.FindGuestHouseholds(t.Context(), []string{"j", "doe"}, 1)
	if err != nil {
		t.Fatalf("FindGuestHouseholds: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit 1 returned %d rows", len(limited))
	}
}

func TestHouseholdsByLast4(t *testing.T) {
	db := dbtest.New(t)
	a := dbtest.Household(t, db, "A", "+16502531111")
	b := dbtest.Household(t, db, "B", "+16502532222")
	c := dbtest.Household(t, db, "C", "+16502541111")

	got, err := db.HouseholdsByLast4(t.Context(), []string{a.ID, b.ID}, "1111")
	if err != nil {
		t.Fatalf("HouseholdsByLast4: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Errorf("got %v, want only A", got)
	}

	got, err = db.HouseholdsByLast4(t.Context(), []string{a.ID, b.ID, c.ID}, "1111")
	if err != nil {
		t.Fatalf("HouseholdsByLast4: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d households, want 2", len(got))
	}

	got, err = db.HouseholdsByLast4(t.Context(), nil, "1111")
	if err != nil || got != nil {
		t.Errorf("empty candidates: got %v, %v", got, err)
	}
}

func TestUpdateHouseholdPhoneDeletesOTPs(t *testing.T) {
	db := dbtest.New(t)
	hh := dbtest.Household(t, db, "The Does", "+16502534321", "Jane Doe")
	now := time.Now().UTC()

	err := db.CreateOTP(t.Context(), &database.OTP{
		HouseholdID: hh.ID,
		CodeHash:    "hash",
		Purpose:     "rsvp",
		ExpiresAt:   now.Add(10 * time.Minute),
		CreatedAt:   now,
	})
	if err != nil {
		t.Fatalf("CreateOTP: %v", err)
	}
	if err := db.LockHousehold(t.Context(), hh.ID, now); err != nil {
		t.Fatalf("LockHousehold: %v", err)
	}

	updated, err := db.UpdateHouseholdPhone(t.Context(), hh.ID, "+16502539876")
	if err != nil {
		t.Fatalf("UpdateHouseholdPhone: %v", err)
	}
	if updated.Phone != "+16502539876" || updated.PhoneLast4 != "9876" {
		t.Errorf("phone/last4 = %q/%q", updated.Phone, updated.PhoneLast4)
	}
	if updated.LockedAt.Valid {
		t.Error("phone update should clear the lock")
	}

	otp, err := db.LatestOTP(t.Context(), hh.ID)
	if err != nil {
		t.Fatalf("LatestOTP: %v", err)
	}
	if otp != nil {
		t.Errorf("expected no otp after phone change, got %+v", otp)
	}

	if _, err := db.UpdateHouseholdPhone(t.Context(), "missing", "+16502539876"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("missing household: err = %v, want ErrNotFound", err)
	}
}

func TestOTPLifecycle(t *testing.T) {
	db := dbtest.New(t)
	hh := dbtest.Household(t, db, "The Does", "+16502534321")
	now := time.Now().UTC()

	older := &database.OTP{HouseholdID: hh.ID, CodeHash: "old", Purpose: "rsvp",
		ExpiresAt: now.Add(9 * time.Minute), CreatedAt: now.Add(-time.Minute)}
	newer := &database.OTP{HouseholdID: hh.ID, CodeHash: "new", Purpose: "rsvp",
		ExpiresAt: now.Add(10 * time.Minute), CreatedAt: now}
	for _, o := range []*database.OTP{older, newer} {
		if err := db.CreateOTP(t.Context(), o); err != nil {
			t.Fatalf("CreateOTP: %v", err)
		}
	}

	latest, err := db.LatestOTP(t.Context(), hh.ID)
	if err != nil {
		t.Fatalf("LatestOTP: %v", err)
	}
	if latest == nil || latest.ID != newer.ID {
		t.Fatalf("LatestOTP = %+v, want the newer code", latest)
	}
	if !latest.ExpiresAt.Equal(newer.ExpiresAt.Truncate(time.Microsecond)) && !latest.ExpiresAt.Equal(newer.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", latest.ExpiresAt, newer.ExpiresAt)
	}

	for want := 1; want <= 2; want++ {
		got, ok, err := db.ClaimOTPAttempt(t.Context(), newer.ID, 2)
		if err != nil || !ok {
			t.Fatalf("ClaimOTPAttempt = %v, %v", ok, err)
		}
		if got != want {
			t.Errorf("attempts = %d, want %d", got, want)
		}
	}
	if _, ok, err := db.ClaimOTPAttempt(t.Context(), newer.ID, 2); err != nil || ok {
		t.Errorf("claim past the ceiling = %v, %v; want false", ok, err)
	}
	if _, ok, err := db.ClaimOTPAttempt(t.Context(), "missing", 2); err != nil || ok {
		t.Errorf("claim on missing otp = %v, %v; want false", ok, err)
	}

	ok, err := db.ConsumeOTP(t.Context(), newer.ID, now)
	if err != nil || !ok {
		t.Fatalf("first ConsumeOTP = %v, %v", ok, err)
	}
	ok, err = db.ConsumeOTP(t.Context(), newer.ID, now)
	if err != nil || ok {
		t.Errorf("second ConsumeOTP = %v, %v; want false", ok, err)
	}

	if _, ok, err := db.ClaimOTPAttempt(t.Context(), older.ID, 5); err != nil || !ok {
		t.Fatalf("claim on open otp = %v, %v", ok, err)
	}
	if _, ok, err := db.ClaimOTPAttempt(t.Context(), newer.ID, 5); err != nil || ok {
		t.Errorf("claim on consumed otp = %v, %v; want false", ok, err)
	}
}

func TestSetGuestRSVPsAllOrNothing(t *testing.T) {
	db := dbtest.New(t)
	does := dbtest.Household(t, db, "The Does", "+16502534321", "Jane Doe", "John Doe")
	other := dbtest.Household(t, db, "Smith", "+16502532222", "Jane Smith")

	doeGuests, err := db.GuestsByHousehold(t.Context(), does.ID)
	if err != nil {
		t.Fatalf("GuestsByHousehold: %v", err)
	}
	otherGuests, err := db.GuestsByHousehold(t.Context(), other.ID)
	if err != nil {
		t.Fatalf("GuestsByHousehold: %v", err)
	}

	err = db.SetGuestRSVPs(t.Context(), does.ID, []database.RSVPResponse{
		{GuestID: doeGuests[0].ID, Status: database.RSVPYes},
		{GuestID: otherGuests[0].ID, Status: database.RSVPNo},
	})
	if !errors.Is(err, database.ErrGuestNotInHousehold) {
		t.Fatalf("err = %v, want ErrGuestNotInHousehold", err)
	}

	g, err := db.GetGuest(t.Context(), doeGuests[0].ID)
	if err != nil {
		t.Fatalf("GetGuest: %v", err)
	}
	if g.RSVPStatus.Valid {
		t.Errorf("partial submission applied: status = %q", g.RSVPStatus.String)
	}

	err = db.SetGuestRSVPs(t.Context(), does.ID, []database.RSVPResponse{
		{GuestID: doeGuests[0].ID, Status: database.RSVPYes},
		{GuestID: doeGuests[1].ID, Status: database.RSVPNo},
	})
	if err != nil {
		t.Fatalf("SetGuestRSVPs: %v", err)
	}

	summary, err := db.GetSummary(t.Context())
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	want := database.Summary{Households: 2, TotalGuests: 3, Yes: 1, No: 1, Pending: 1}
	if *summary != want {
		t.Errorf("summary = %+v, want %+v", *summary, want)
	}
}

func TestListGuestsFilters(t *testing.T) {
	db := dbtest.New(t)
	does := dbtest.Household(t, db, "The Does", "+16502534321", "Jane Doe", "John Doe")
	dbtest.Household(t, db, "Garcia", "+16502531111", "José García")

	guests, err := db.GuestsByHousehold(t.Context(), does.ID)
	if err != nil {
		t.Fatalf("GuestsByHousehold: %v", err)
	}
	if _, err := db.UpdateGuestRSVP(t.Context(), guests[0].ID, database.RSVPYes); err != nil {
		t.Fatalf("UpdateGuestRSVP: %v", err)
	}

	tests := []struct {
		search, status string
		want           int
	}{
		{"", "", 3},
		{"", "yes", 1},
		{"", "pending", 2},
		{"garcia", "", 1},
		{"does", "", 2},
		{"doe", "pending", 1},
	}
	for _, tt := range tests {
		got, err := db.ListGuests(t.Context(), tt.search, tt.status)
		if err != nil {
			t.Fatalf("ListGuests(%q, %q): %v", tt.search, tt.status, err)
		}
		if len(got) != tt.want {
			t.Errorf("ListGuests(%q, %q) = %d rows, want %d", tt.search, tt.status, len(got), tt.want)
		}
	}
}
