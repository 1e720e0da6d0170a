package i18n

import (
	"net/http"

	"golang.org/x/text/language"
)

type Language string

const (
	Romanian Language = "ro"
	English  Language = "en"
)

// The first entry is the fallback for unmatched Accept-Language headers.
var matcher = language.NewMatcher([]language.Tag{language.English, language.Romanian})

func parse(s string) (Language, bool) {
	switch s {
	case "ro":
		return Romanian, true
	case "en":
		return English, true
	}
	return "", false
}

// GetLanguageFromRequest picks the response language from the lang query
// parameter, then the lang cookie, then Accept-Language.
func GetLanguageFromRequest(r *http.Request) Language {
	if lang, ok := parse(r.URL.Query().Get("lang")); ok {
		return lang
	}

	if cookie, err := r.Cookie("lang"); err == nil {
		if lang, ok := parse(cookie.Value); ok {
			return lang
		}
	}

	tags, _, _ := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	_, idx, _ := matcher.Match(tags...)
	if idx == 1 {
		return Romanian
	}
	return English
}

var messages = map[Language]map[string]string{
	English: {
		"search_required":   "Please search for your name first.",
		"not_verified":      "We couldn't verify those details. Check the name and the last four digits of your phone.",
		"cooldown":          "A code was sent recently. Please wait a minute before requesting another.",
		"otp_required":      "Please request a verification code first.",
		"expired":           "This code has expired. Please request a new one.",
		"bad_code":          "That code is incorrect.",
		"too_many_attempts": "Too many incorrect attempts. Please request a new code.",
		"locked":            "Verification is locked for this invitation. Please contact the hosts.",
		"notify_failed":     "We couldn't send your code. Please try again shortly.",
		"deadline_passed":   "The RSVP deadline has passed.",
		"unauthorized":      "Please verify your invitation to continue.",
		"not_found":         "Not found.",
		"bad_request":       "The request was invalid.",
		"rate_limited":      "Too many requests. Please slow down.",
		"internal":          "Something went wrong. Please try again.",
	},
	Romanian: {
		"search_required":   "Vă rugăm să căutați mai întâi numele.",
		"not_verified":      "Nu am putut verifica datele. Verificați numele și ultimele patru cifre ale telefonului.",
		"cooldown":          "Un cod a fost trimis recent. Așteptați un minut înainte de a cere altul.",
		"otp_required":      "Vă rugăm să cereți mai întâi un cod de verificare.",
		"expired":           "Codul a expirat. Vă rugăm să cereți unul nou.",
		"bad_code":          "Codul este incorect.",
		"too_many_attempts": "Prea multe încercări greșite. Vă rugăm să cereți un cod nou.",
		"locked":            "Verificarea este blocată pentru această invitație. Contactați gazdele.",
		"notify_failed":     "Nu am putut trimite codul. Încercați din nou în curând.",
		"deadline_passed":   "Termenul de confirmare a trecut.",
		"unauthorized":      "Vă rugăm să vă verificați invitația pentru a continua.",
		"not_found":         "Nu a fost găsit.",
		"bad_request":       "Cererea nu este validă.",
		"rate_limited":      "Prea multe cereri. Vă rugăm să încetiniți.",
		"internal":          "A apărut o eroare. Încercați din nou.",
	},
}

// Message returns the text for an error code, falling back to English and
// then to the generic internal message.
func Message(lang Language, code string) string {
	if m, ok := messages[lang][code]; ok {
		return m
	}
	if m, ok := messages[English][code]; ok {
		return m
	}
	return messages[English]["internal"]
}
