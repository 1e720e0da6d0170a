package handlers

import (
	"net/http"

	"github.com/AlexTLDR/rsvp/internal/rsvp"
	"github.com/AlexTLDR/rsvp/internal/token"
)

// bearerBody adds the raw token to a response when tokens are JWTs, for
// clients that send them back as Authorization: Bearer.
func bearerBody(s Server, body map[string]any, tok string) map[string]any {
	if s.GetConfig().TokenFormat == "jwt" && tok != "" {
		body["token"] = tok
	}
	return body
}

// HandleSearch looks up a name and, when it matches, sets the candidates cookie.
func HandleSearch(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}

		tok, err := s.GetRSVP().Search(r.Context(), req.Name)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if tok == "" {
			clearCookie(w, s.GetConfig(), string(token.KindCandidates))
			writeJSON(w, http.StatusOK, map[string]any{"candidate": false})
			return
		}

		setCookie(w, s.GetConfig(), string(token.KindCandidates), tok, token.CandidatesTTL)
		writeJSON(w, http.StatusOK, bearerBody(s, map[string]any{"candidate": true}, tok))
	}
}

// HandleOTPInit checks the phone ending against the candidates and sends a code.
func HandleOTPInit(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Last4 string `json:"last4"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}

		pending, err := s.GetRSVP().StartOTP(r.Context(), readToken(r, token.KindCandidates), req.Last4)
		if pending != "" {
			setCookie(w, s.GetConfig(), string(token.KindPending), pending, token.PendingTTL)
		}
		if err != nil {
			extra := map[string]any{"sent": false}
			if rsvp.KindOf(err) == rsvp.KindNotifyFailed {
				extra = bearerBody(s, extra, pending)
			}
			writeError(w, r, err, extra)
			return
		}

		writeJSON(w, http.StatusOK, bearerBody(s, map[string]any{"sent": true}, pending))
	}
}

// HandleOTPVerify exchanges a correct code for the household session.
func HandleOTPVerify(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Code string `json:"code"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}

		session, err := s.GetRSVP().VerifyOTP(r.Context(), readToken(r, token.KindPending), req.Code)
		if err != nil {
			writeError(w, r, err, map[string]any{"ok": false})
			return
		}

		cfg := s.GetConfig()
		setCookie(w, cfg, string(token.KindSession), session, token.SessionTTL)
		clearCookie(w, cfg, string(token.KindCandidates))
		clearCookie(w, cfg, string(token.KindPending))
		writeJSON(w, http.StatusOK, bearerBody(s, map[string]any{"ok": true}, session))
	}
}

// HandleLogout drops the household session cookie.
func HandleLogout(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clearCookie(w, s.GetConfig(), string(token.KindSession))
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}
