package handlers

import (
	"net/http"

	"github.com/AlexTLDR/rsvp/internal/database"
)

type guestView struct {
	ID       string  `json:"id"`
	FullName string  `json:"fullName"`
	RSVP     *string `json:"rsvp"`
}

func toGuestView(g *database.Guest) guestView {
	v := guestView{ID: g.ID, FullName: g.DisplayName}
	if g.RSVPStatus.Valid {
		status := g.RSVPStatus.String
		v.RSVP = &status
	}
	return v
}

// HandleHousehold returns the session household and its guests.
func HandleHousehold(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hh, guests, err := s.GetRSVP().Household(r.Context(), HouseholdID(r.Context()))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		views := make([]guestView, 0, len(guests))
		for _, g := range guests {
			views = append(views, toGuestView(g))
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"household": map[string]string{"id": hh.ID, "label": hh.Label},
			"guests":    views,
		})
	}
}

// rsvpSubmission is the submit body. Any household ID a client sends is
// ignored; the session decides which household is written.
type rsvpSubmission struct {
	Responses []struct {
		GuestID string `json:"guestId"`
		// ID is the older field name, still accepted.
		ID   string `json:"id"`
		RSVP string `json:"rsvp"`
	} `json:"responses"`
}

// HandleRSVPSubmit applies the household's answers all at once.
func HandleRSVPSubmit(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rsvpSubmission
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err, map[string]any{"ok": false})
			return
		}

		responses := make([]database.RSVPResponse, 0, len(req.Responses))
		for _, resp := range req.Responses {
			id := resp.GuestID
			if id == "" {
				id = resp.ID
			}
			responses = append(responses, database.RSVPResponse{GuestID: id, Status: resp.RSVP})
		}

		if err := s.GetRSVP().SubmitRSVP(r.Context(), HouseholdID(r.Context()), responses); err != nil {
			writeError(w, r, err, map[string]any{"ok": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}
