package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/AlexTLDR/rsvp/internal/database"
	"github.com/AlexTLDR/rsvp/internal/rsvp"
	"github.com/AlexTLDR/rsvp/internal/utils"
	"github.com/rs/zerolog/hlog"
)

// dbError maps database sentinels to protocol kinds.
func dbError(err error) error {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return &rsvp.Error{Kind: rsvp.KindNotFound, Err: err}
	default:
		return &rsvp.Error{Kind: rsvp.KindInternal, Err: err}
	}
}

type adminGuest struct {
	ID             string    `json:"id"`
	HouseholdID    string    `json:"householdId"`
	HouseholdLabel string    `json:"householdLabel,omitempty"`
	FirstName      string    `json:"firstName"`
	LastName       string    `json:"lastName"`
	FullName       string    `json:"fullName"`
	RSVP           *string   `json:"rsvp"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func toAdminGuest(g *database.Guest, label string) adminGuest {
	v := adminGuest{
		ID:             g.ID,
		HouseholdID:    g.HouseholdID,
		HouseholdLabel: label,
		FirstName:      g.FirstName,
		LastName:       g.LastName,
		FullName:       g.DisplayName,
		UpdatedAt:      g.UpdatedAt,
	}
	if g.RSVPStatus.Valid {
		status := g.RSVPStatus.String
		v.RSVP = &status
	}
	return v
}

type adminHousehold struct {
	ID         string       `json:"id"`
	Label      string       `json:"label"`
	Phone      string       `json:"phone"`
	PhoneLast4 string       `json:"phoneLast4"`
	Locked     bool         `json:"locked"`
	CreatedAt  time.Time    `json:"createdAt"`
	Guests     []adminGuest `json:"guests"`
}

func toAdminHousehold(hh *database.Household, guests []*database.Guest) adminHousehold {
	v := adminHousehold{
		ID:         hh.ID,
		Label:      hh.Label,
		Phone:      hh.Phone,
		PhoneLast4: hh.PhoneLast4,
		Locked:     hh.LockedAt.Valid,
		CreatedAt:  hh.CreatedAt,
		Guests:     make([]adminGuest, 0, len(guests)),
	}
	for _, g := range guests {
		v.Guests = append(v.Guests, toAdminGuest(g, ""))
	}
	return v
}

// HandleAdminSummary returns RSVP counts
func HandleAdminSummary(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := s.GetDB().GetSummary(r.Context())
		if err != nil {
			writeError(w, r, dbError(err), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{
			"households":  summary.Households,
			"totalGuests": summary.TotalGuests,
			"yes":         summary.Yes,
			"no":          summary.No,
			"pending":     summary.Pending,
		})
	}
}

// HandleAdminGuests lists guests, optionally filtered by ?search= and ?status=.
func HandleAdminGuests(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		switch status {
		case "", "all":
			status = ""
		case database.RSVPYes, database.RSVPNo, "pending":
		default:
			writeError(w, r, badRequest(errors.New("unknown status filter")), nil)
			return
		}

		guests, err := s.GetDB().ListGuests(r.Context(), r.URL.Query().Get("search"), status)
		if err != nil {
			writeError(w, r, dbError(err), nil)
			return
		}

		views := make([]adminGuest, 0, len(guests))
		for _, g := range guests {
			views = append(views, toAdminGuest(&g.Guest, g.HouseholdLabel))
		}
		writeJSON(w, http.StatusOK, map[string]any{"guests": views})
	}
}

// HandleAdminSetGuestRSVP sets or clears one guest's answer.
func HandleAdminSetGuestRSVP(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RSVP *string `json:"rsvp"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}

		status := ""
		if req.RSVP != nil {
			status = *req.RSVP
		}
		if status != "" && status != database.RSVPYes && status != database.RSVPNo {
			writeError(w, r, badRequest(errors.New("rsvp must be yes, no or null")), nil)
			return
		}

		g, err := s.GetDB().UpdateGuestRSVP(r.Context(), r.PathValue("id"), status)
		if err != nil {
			writeError(w, r, dbError(err), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"guest": toAdminGuest(g, "")})
	}
}

// HandleAdminDeleteGuest removes a guest
func HandleAdminDeleteGuest(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.GetDB().DeleteGuest(r.Context(), r.PathValue("id")); err != nil {
			writeError(w, r, dbError(err), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// HandleAdminHouseholds lists every household with its guests.
func HandleAdminHouseholds(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		households, err := s.GetDB().ListHouseholds(r.Context())
		if err != nil {
			writeError(w, r, dbError(err), nil)
			return
		}

		views := make([]adminHousehold, 0, len(households))
		for _, hh := range households {
			views = append(views, toAdminHousehold(&hh.Household, hh.Guests))
		}
		writeJSON(w, http.StatusOK, map[string]any{"households": views})
	}
}

// normalizePhone turns admin input into E.164, or a bad_request error.
func normalizePhone(s Server, phone string) (string, error) {
	normalized, err := utils.NormalizePhoneNumber(phone, s.GetConfig().DefaultRegion)
	if err != nil {
		return "", badRequest(err)
	}
	return normalized, nil
}

// HandleAdminCreateHousehold creates a household and, optionally, its guests.
func HandleAdminCreateHousehold(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Label  string   `json:"label"`
			Phone  string   `json:"phone"`
			Guests []string `json:"guests"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if strings.TrimSpace(req.Label) == "" {
			writeError(w, r, badRequest(errors.New("label is required")), nil)
			return
		}
		phone, err := normalizePhone(s, req.Phone)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		db := s.GetDB()
		hh, err := db.CreateHousehold(r.Context(), req.Label, phone)
		if err != nil {
			writeError(w, r, dbError(err), nil)
			return
		}

		guests := make([]*database.Guest, 0, len(req.Guests))
		for _, name := range req.Guests {
			if strings.TrimSpace(name) == "" {
				continue
			}
			g, err := db.CreateGuest(r.Context(), hh.ID, name)
			if err != nil {
				writeError(w, r, dbError(err), nil)
				return
			}
			guests = append(guests, g)
		}

		hlog.FromRequest(r).Info().Str("household_id", hh.ID).Int("guests", len(guests)).Msg("Household created")
		writeJSON(w, http.StatusCreated, map[string]any{"household": toAdminHousehold(hh, guests)})
	}
}

// HandleAdminUpdatePhone changes a household's phone. Outstanding codes for
// the old number are voided in the same step.
func HandleAdminUpdatePhone(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Phone string `json:"phone"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		phone, err := normalizePhone(s, req.Phone)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		id := r.PathValue("id")
		hh, err := s.GetDB().UpdateHouseholdPhone(r.Context(), id, phone)
		if err != nil {
			writeError(w, r, dbError(err), nil)
			return
		}
		// The update already deleted the rows; this also drops any cooldown claim.
		if err := s.GetOTP().Invalidate(r.Context(), id); err != nil {
			writeError(w, r, dbError(err), nil)
			return
		}

		hlog.FromRequest(r).Info().Str("household_id", id).Str("last4", hh.PhoneLast4).Msg("Household phone changed")
		writeJSON(w, http.StatusOK, map[string]any{"household": toAdminHousehold(hh, nil)})
	}
}

// HandleAdminAddGuest adds a guest to a household
func HandleAdminAddGuest(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			writeError(w, r, badRequest(errors.New("name is required")), nil)
			return
		}

		db := s.GetDB()
		id := r.PathValue("id")
		if _, err := db.GetHousehold(r.Context(), id); err != nil {
			writeError(w, r, dbError(err), nil)
			return
		}
		g, err := db.CreateGuest(r.Context(), id, req.Name)
		if err != nil {
			writeError(w, r, dbError(err), nil)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"guest": toAdminGuest(g, "")})
	}
}

// HandleAdminUnlock lifts an OTP lockout.
func HandleAdminUnlock(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := s.GetDB().UnlockHousehold(r.Context(), id); err != nil {
			writeError(w, r, dbError(err), nil)
			return
		}
		if err := s.GetOTP().Invalidate(r.Context(), id); err != nil {
			writeError(w, r, dbError(err), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// HandleAdminDeleteHousehold removes a household and its guests.
func HandleAdminDeleteHousehold(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.GetDB().DeleteHousehold(r.Context(), r.PathValue("id")); err != nil {
			writeError(w, r, dbError(err), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}
