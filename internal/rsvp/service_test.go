package rsvp_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/AlexTLDR/rsvp/internal/database"
	"github.com/AlexTLDR/rsvp/internal/database/dbtest"
	"github.com/AlexTLDR/rsvp/internal/otp"
	"github.com/AlexTLDR/rsvp/internal/rsvp"
	"github.com/AlexTLDR/rsvp/internal/token"
)

const secret = "service-test-secret-service-test-secret"

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type recordingGateway struct {
	codes []string
	err   error
}

func (g *recordingGateway) Send(_ context.Context, _, code string) error {
	g.codes = append(g.codes, code)
	return g.err
}

type env struct {
	db      *database.DB
	svc     *rsvp.Service
	gateway *recordingGateway
	clock   *fakeClock
	tokens  *token.Issuer
}

func newEnv(t *testing.T, deadline time.Time) *env {
	t.Helper()

	db := dbtest.New(t)
	clock := &fakeClock{t: time.Now().UTC()}

	codec, err := token.NewCodec("securecookie", secret, clock.Now)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	tokens := token.NewIssuer(codec, clock.Now)

	pepper, err := token.DeriveKey(secret, token.LabelOTPPepper, 32)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	hasher, err := otp.NewHasher(pepper)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	gw := &recordingGateway{}
	mgr, err := otp.NewManager(otp.DefaultConfig(), db, gw, hasher, otp.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	svc := rsvp.NewService(db, mgr, tokens, rsvp.Config{Deadline: deadline, Now: clock.Now})
	return &env{db: db, svc: svc, gateway: gw, clock: clock, tokens: tokens}
}

func wantKind(t *testing.T, err error, kind rsvp.Kind) {
	t.Helper()
	if got := rsvp.KindOf(err); got != kind {
		t.Fatalf("error kind = %q (%v), want %q", got, err, kind)
	}
}

func TestEndToEnd(t *testing.T) {
	e := newEnv(t, time.Time{})
	ctx := t.Context()
	h := dbtest.Household(t, e.db, "The Does", "+16502534321", "Jane Doe", "John Doe")
	dbtest.Household(t, e.db, "The Smiths", "+16502531111", "Jane Smith")

	cand, err := e.svc.Search(ctx, "Jane Doe")
	if err != nil || cand == "" {
		t.Fatalf("Search = %q, %v", cand, err)
	}

	pending, err := e.svc.StartOTP(ctx, cand, "4321")
	if err != nil || pending == "" {
		t.Fatalf("StartOTP = %q, %v", pending, err)
	}
	if len(e.gateway.codes) != 1 {
		t.Fatalf("sent %d codes", len(e.gateway.codes))
	}

	session, err := e.svc.VerifyOTP(ctx, pending, e.gateway.codes[0])
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}

	hhID, err := e.svc.Authenticate(session)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if hhID != h.ID {
		t.Fatalf("session household = %s, want %s", hhID, h.ID)
	}

	hh, guests, err := e.svc.Household(ctx, hhID)
	if err != nil {
		t.Fatalf("Household: %v", err)
	}
	if hh.Label != "The Does" || len(guests) != 2 {
		t.Fatalf("household = %q with %d guests", hh.Label, len(guests))
	}

	err = e.svc.SubmitRSVP(ctx, hhID, []database.RSVPResponse{
		{GuestID: guests[0].ID, Status: database.RSVPYes},
		{GuestID: guests[1].ID, Status: database.RSVPNo},
	})
	if err != nil {
		t.Fatalf("SubmitRSVP: %v", err)
	}

	_, guests, err = e.svc.Household(ctx, hhID)
	if err != nil {
		t.Fatalf("Household: %v", err)
	}
	if guests[0].RSVPStatus.String != "yes" || guests[1].RSVPStatus.String != "no" {
		t.Errorf("statuses = %q, %q", guests[0].RSVPStatus.String, guests[1].RSVPStatus.String)
	}
}

func TestSearch(t *testing.T) {
	e := newEnv(t, time.Time{})
	dbtest.Household(t, e.db, "The Does", "+16502534321", "Jane Doe")

	tok, err := e.svc.Search(t.Context(), "Nobody Known")
	if err != nil || tok != "" {
		t.Errorf("unknown name: token %q, err %v", tok, err)
	}

	_, err = e.svc.Search(t.Context(), "Jane")
	wantKind(t, err, rsvp.KindBadRequest)
}

func TestStartOTPErrors(t *testing.T) {
	e := newEnv(t, time.Time{})
	ctx := t.Context()
	a := dbtest.Household(t, e.db, "A", "+16502531111", "Alex Popescu")
	b := dbtest.Household(t, e.db, "B", "+16502542222", "Alex Popescu")
	c := dbtest.Household(t, e.db, "C", "+16502551111", "Alex Popescu")

	both, err := e.tokens.IssueCandidates([]string{a.ID, b.ID})
	if err != nil {
		t.Fatalf("IssueCandidates: %v", err)
	}
	all, err := e.tokens.IssueCandidates([]string{a.ID, b.ID, c.ID})
	if err != nil {
		t.Fatalf("IssueCandidates: %v", err)
	}

	_, noMatch := e.svc.StartOTP(ctx, both, "3333")
	wantKind(t, noMatch, rsvp.KindNotVerified)
	_, ambiguous := e.svc.StartOTP(ctx, all, "1111")
	wantKind(t, ambiguous, rsvp.KindNotVerified)
	if noMatch.Error() == ambiguous.Error() {
		t.Error("internal causes should differ even though the kind is shared")
	}

	_, err = e.svc.StartOTP(ctx, both, "12a4")
	wantKind(t, err, rsvp.KindBadRequest)

	_, err = e.svc.StartOTP(ctx, "", "1111")
	wantKind(t, err, rsvp.KindSearchRequired)

	// A pending token must not pass as a candidates token.
	pending, err := e.tokens.IssuePending(a.ID)
	if err != nil {
		t.Fatalf("IssuePending: %v", err)
	}
	_, err = e.svc.StartOTP(ctx, pending, "1111")
	wantKind(t, err, rsvp.KindSearchRequired)

	if _, err := e.svc.StartOTP(ctx, both, "1111"); err != nil {
		t.Fatalf("StartOTP: %v", err)
	}
	_, err = e.svc.StartOTP(ctx, both, "1111")
	wantKind(t, err, rsvp.KindCooldown)

	e.clock.Advance(token.CandidatesTTL)
	_, err = e.svc.StartOTP(ctx, both, "2222")
	wantKind(t, err, rsvp.KindSearchRequired)
}

func TestStartOTPNotifyFailure(t *testing.T) {
	e := newEnv(t, time.Time{})
	dbtest.Household(t, e.db, "The Does", "+16502534321", "Jane Doe")
	e.gateway.err = errors.New("provider down")

	cand, err := e.svc.Search(t.Context(), "jane doe")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	pending, err := e.svc.StartOTP(t.Context(), cand, "4321")
	wantKind(t, err, rsvp.KindNotifyFailed)
	if pending == "" {
		t.Fatal("pending token should still be issued when delivery fails")
	}

	if _, err := e.svc.VerifyOTP(t.Context(), pending, e.gateway.codes[0]); err != nil {
		t.Errorf("late code should still verify: %v", err)
	}
}

func TestVerifyOTPErrors(t *testing.T) {
	e := newEnv(t, time.Time{})
	ctx := t.Context()
	h := dbtest.Household(t, e.db, "The Does", "+16502534321", "Jane Doe")

	cand, _ := e.tokens.IssueCandidates([]string{h.ID})
	pending, err := e.svc.StartOTP(ctx, cand, "4321")
	if err != nil {
		t.Fatalf("StartOTP: %v", err)
	}
	code := e.gateway.codes[0]
	bad := "000000"
	if code == bad {
		bad = "000001"
	}

	_, err = e.svc.VerifyOTP(ctx, pending, "12345")
	wantKind(t, err, rsvp.KindBadRequest)
	_, err = e.svc.VerifyOTP(ctx, "", code)
	wantKind(t, err, rsvp.KindOTPRequired)
	_, err = e.svc.VerifyOTP(ctx, cand, code)
	wantKind(t, err, rsvp.KindOTPRequired)
	_, err = e.svc.VerifyOTP(ctx, pending, bad)
	wantKind(t, err, rsvp.KindBadCode)

	e.clock.Advance(9 * time.Minute)
	if _, err := e.svc.VerifyOTP(ctx, pending, code); err != nil {
		t.Fatalf("VerifyOTP within ttl: %v", err)
	}
	_, err = e.svc.VerifyOTP(ctx, pending, code)
	wantKind(t, err, rsvp.KindExpired)
}

func TestVerifyOTPAfterPhoneChange(t *testing.T) {
	e := newEnv(t, time.Time{})
	ctx := t.Context()
	h := dbtest.Household(t, e.db, "The Does", "+16502534321", "Jane Doe")

	cand, _ := e.tokens.IssueCandidates([]string{h.ID})
	pending, err := e.svc.StartOTP(ctx, cand, "4321")
	if err != nil {
		t.Fatalf("StartOTP: %v", err)
	}
	if _, err := e.db.UpdateHouseholdPhone(ctx, h.ID, "+16502539999"); err != nil {
		t.Fatalf("UpdateHouseholdPhone: %v", err)
	}

	_, err = e.svc.VerifyOTP(ctx, pending, e.gateway.codes[0])
	wantKind(t, err, rsvp.KindExpired)
}

func TestAuthenticateRejectsOtherKinds(t *testing.T) {
	e := newEnv(t, time.Time{})

	pending, _ := e.tokens.IssuePending("hh1")
	for _, tok := range []string{"", "garbage", pending} {
		_, err := e.svc.Authenticate(tok)
		wantKind(t, err, rsvp.KindUnauthorized)
	}

	session, _ := e.tokens.IssueSession("hh1")
	e.clock.Advance(token.SessionTTL)
	_, err := e.svc.Authenticate(session)
	wantKind(t, err, rsvp.KindUnauthorized)
}

func TestSubmitRSVPValidation(t *testing.T) {
	deadline := time.Now().UTC().Add(time.Hour)
	e := newEnv(t, deadline)
	ctx := t.Context()
	h := dbtest.Household(t, e.db, "The Does", "+16502534321", "Jane Doe", "John Doe")
	other := dbtest.Household(t, e.db, "Smith", "+16502531111", "Jane Smith")

	guests, _ := e.db.GuestsByHousehold(ctx, h.ID)
	otherGuests, _ := e.db.GuestsByHousehold(ctx, other.ID)

	tests := []struct {
		name      string
		responses []database.RSVPResponse
		want      rsvp.Kind
	}{
		{
			name:      "invalid status",
			responses: []database.RSVPResponse{{GuestID: guests[0].ID, Status: "yes"}, {GuestID: guests[1].ID, Status: "maybe"}},
			want:      rsvp.KindBadRequest,
		},
		{
			name:      "missing guest id",
			responses: []database.RSVPResponse{{Status: "yes"}},
			want:      rsvp.KindBadRequest,
		},
		{
			name:      "guest of another household",
			responses: []database.RSVPResponse{{GuestID: guests[0].ID, Status: "yes"}, {GuestID: otherGuests[0].ID, Status: "no"}},
			want:      rsvp.KindBadRequest,
		},
		{
			name:      "duplicate guest",
			responses: []database.RSVPResponse{{GuestID: guests[0].ID, Status: "yes"}, {GuestID: guests[0].ID, Status: "no"}},
			want:      rsvp.KindBadRequest,
		},
		{
			name:      "empty submission",
			responses: nil,
			want:      "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.svc.SubmitRSVP(ctx, h.ID, tt.responses)
			wantKind(t, err, tt.want)

			for _, g := range append(guests, otherGuests...) {
				got, err := e.db.GetGuest(ctx, g.ID)
				if err != nil {
					t.Fatalf("GetGuest: %v", err)
				}
				if got.RSVPStatus.Valid {
					t.Errorf("guest %s changed to %q by a rejected submission", g.DisplayName, got.RSVPStatus.String)
				}
			}
		})
	}

	e.clock.Advance(2 * time.Hour)
	err := e.svc.SubmitRSVP(ctx, h.ID, []database.RSVPResponse{{GuestID: guests[0].ID, Status: "yes"}})
	wantKind(t, err, rsvp.KindDeadlinePassed)
}

func TestKindStatus(t *testing.T) {
	tests := map[rsvp.Kind]int{
		rsvp.KindNotVerified:     http.StatusBadRequest,
		rsvp.KindCooldown:        http.StatusTooManyRequests,
		rsvp.KindTooManyAttempts: http.StatusTooManyRequests,
		rsvp.KindLocked:          http.StatusLocked,
		rsvp.KindNotifyFailed:    http.StatusBadGateway,
		rsvp.KindUnauthorized:    http.StatusUnauthorized,
		rsvp.KindDeadlinePassed:  http.StatusForbidden,
		rsvp.KindInternal:        http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := kind.Status(); got != want {
			t.Errorf("%s.Status() = %d, want %d", kind, got, want)
		}
	}

	if rsvp.KindOf(errors.New("boom")) != rsvp.KindInternal {
		t.Error("plain errors should be internal")
	}
	if rsvp.KindOf(nil) != "" {
		t.Error("nil error should have no kind")
	}
}
