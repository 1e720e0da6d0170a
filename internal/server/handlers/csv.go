package handlers

import (
	"encoding/csv"
	"net/http"

	"github.com/AlexTLDR/rsvp/internal/database"
	"github.com/rs/zerolog/hlog"
)

var csvHeader = []string{"Household", "Guest", "First name", "Last name", "RSVP", "Updated"}

// formatGuestForCSV converts a guest to a CSV record
func formatGuestForCSV(g *database.GuestWithHousehold) []string {
	status := "pending"
	if g.RSVPStatus.Valid {
		status = g.RSVPStatus.String
	}
	return []string{
		g.HouseholdLabel,
		g.DisplayName,
		g.FirstName,
		g.LastName,
		status,
		g.UpdatedAt.UTC().Format("2006-01-02 15:04"),
	}
}

// HandleAdminExportCSV exports every guest and answer as CSV
func HandleAdminExportCSV(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		guests, err := s.GetDB().ListGuests(r.Context(), "", "")
		if err != nil {
			writeError(w, r, dbError(err), nil)
			return
		}

		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", "attachment; filename=rsvp-list.csv")

		// Write UTF-8 BOM for Excel compatibility
		_, _ = w.Write([]byte{0xEF, 0xBB, 0xBF})

		cw := csv.NewWriter(w)
		_ = cw.Write(csvHeader)
		for _, g := range guests {
			_ = cw.Write(formatGuestForCSV(g))
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("Failed to write CSV export")
		}
	}
}
