package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/AlexTLDR/rsvp/internal/config"
	"github.com/AlexTLDR/rsvp/internal/database"
	"github.com/AlexTLDR/rsvp/internal/otp"
	"github.com/AlexTLDR/rsvp/internal/ratelimit"
	"github.com/AlexTLDR/rsvp/internal/rsvp"
	"github.com/AlexTLDR/rsvp/internal/server/handlers"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

const adminSessionName = "auth-session"

type Server struct {
	config       *config.Config
	db           *database.DB
	rsvp         *rsvp.Service
	otp          *otp.Manager
	limiter      ratelimit.Limiter
	sessionStore *sessions.CookieStore
	router       *http.ServeMux
	log          zerolog.Logger
}

// GetDB implements handlers.Server interface
func (s *Server) GetDB() *database.DB {
	return s.db
}

// GetConfig implements handlers.Server interface
func (s *Server) GetConfig() *config.Config {
	return s.config
}

// GetRSVP implements handlers.Server interface
func (s *Server) GetRSVP() *rsvp.Service {
	return s.rsvp
}

// GetOTP implements handlers.Server interface
func (s *Server) GetOTP() *otp.Manager {
	return s.otp
}

// Deps are the services the HTTP layer serves.
type Deps struct {
	DB      *database.DB
	RSVP    *rsvp.Service
	OTP     *otp.Manager
	Limiter ratelimit.Limiter
	Logger  zerolog.Logger
}

func New(cfg *config.Config, deps Deps) *Server {
	store := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int((24 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   cfg.Production(),
		SameSite: cfg.CookieSameSite,
	}

	s := &Server{
		config:       cfg,
		db:           deps.DB,
		rsvp:         deps.RSVP,
		otp:          deps.OTP,
		limiter:      deps.Limiter,
		sessionStore: store,
		router:       http.NewServeMux(),
		log:          deps.Logger,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	limit := func(scope string, h http.HandlerFunc) http.Handler {
		if s.limiter == nil {
			return h
		}
		return ratelimit.Middleware(s.limiter, scope, s.log, func(w http.ResponseWriter, r *http.Request) {
			handlers.WriteErrorKind(w, r, rsvp.KindRateLimited, nil)
		})(h)
	}

	// Verification steps
	s.router.Handle("POST /api/rsvp/search", limit("search", handlers.HandleSearch(s)))
	s.router.Handle("POST /api/rsvp/otp/init", limit("otp_init", handlers.HandleOTPInit(s)))
	s.router.Handle("POST /api/rsvp/otp/verify", limit("otp_verify", handlers.HandleOTPVerify(s)))

	// Household session routes
	s.router.HandleFunc("GET /api/rsvp/household", handlers.RequireSession(s, handlers.HandleHousehold(s)))
	s.router.HandleFunc("POST /api/rsvp/submit", handlers.RequireSession(s, handlers.HandleRSVPSubmit(s)))
	s.router.HandleFunc("POST /api/rsvp/logout", handlers.HandleLogout(s))

	// Auth routes
	s.router.HandleFunc("POST /api/admin/login", s.handleAdminLogin)
	s.router.HandleFunc("POST /api/admin/logout", s.handleLogout)
	s.router.HandleFunc("GET /auth/google", s.handleGoogleLogin)
	s.router.HandleFunc("GET /auth/google/callback", s.handleGoogleCallback)

	// Admin routes (protected)
	s.router.HandleFunc("GET /api/admin/summary", s.requireAuth(handlers.HandleAdminSummary(s)))
	s.router.HandleFunc("GET /api/admin/guests", s.requireAuth(handlers.HandleAdminGuests(s)))
	s.router.HandleFunc("POST /api/admin/guests/{id}/rsvp", s.requireAuth(handlers.HandleAdminSetGuestRSVP(s)))
	s.router.HandleFunc("DELETE /api/admin/guests/{id}", s.requireAuth(handlers.HandleAdminDeleteGuest(s)))
	s.router.HandleFunc("GET /api/admin/households", s.requireAuth(handlers.HandleAdminHouseholds(s)))
	s.router.HandleFunc("POST /api/admin/households", s.requireAuth(handlers.HandleAdminCreateHousehold(s)))
	s.router.HandleFunc("DELETE /api/admin/households/{id}", s.requireAuth(handlers.HandleAdminDeleteHousehold(s)))
	s.router.HandleFunc("POST /api/admin/households/{id}/phone", s.requireAuth(handlers.HandleAdminUpdatePhone(s)))
	s.router.HandleFunc("POST /api/admin/households/{id}/guests", s.requireAuth(handlers.HandleAdminAddGuest(s)))
	s.router.HandleFunc("POST /api/admin/households/{id}/unlock", s.requireAuth(handlers.HandleAdminUnlock(s)))
	s.router.HandleFunc("GET /api/admin/export.csv", s.requireAuth(handlers.HandleAdminExportCSV(s)))

	s.router.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler returns the router wrapped in the middleware stack.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router

	h = cors.Handler(cors.Options{
		AllowedOrigins:   []string{s.config.FrontendOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})(h)
	h = middleware.Recoverer(h)
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request")
	})(h)
	h = requestIDLogger(h)
	h = hlog.NewHandler(s.log)(h)
	h = middleware.RequestID(h)
	if s.config.TrustProxy {
		h = middleware.RealIP(h)
	}
	return h
}

// requestIDLogger tags the request logger with chi's request ID.
func requestIDLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("request_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// requireAuth is a middleware that checks if the admin is signed in
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, _ := s.sessionStore.Get(r, adminSessionName)

		if admin, _ := session.Values["admin"].(bool); admin {
			next(w, r)
			return
		}

		// Google sign-in stores the email; the whitelist may have changed since.
		if email, _ := session.Values["email"].(string); email != "" && s.isAdminEmail(email) {
			next(w, r)
			return
		}

		handlers.WriteErrorKind(w, r, rsvp.KindUnauthorized, nil)
	}
}

func (s *Server) isAdminEmail(email string) bool {
	for _, adminEmail := range s.config.AdminEmails {
		if strings.EqualFold(email, adminEmail) {
			return true
		}
	}
	return false
}
