// Package server wires the application together: it builds the
// dependency graph, mounts every route, and owns startup and graceful
// shutdown. Nothing outside main calls anything here but New and
// Start, which keeps the composition in one place.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/anfal/wificards/internal/auth"
	"github.com/anfal/wificards/internal/config"
	"github.com/anfal/wificards/internal/handler"
	"github.com/anfal/wificards/internal/mailer"
	"github.com/anfal/wificards/internal/metrics"
	"github.com/anfal/wificards/internal/middleware"
	"github.com/anfal/wificards/internal/qr"
	sqliteRepo "github.com/anfal/wificards/internal/repository/sqlite"
	"github.com/anfal/wificards/internal/service"
	"github.com/anfal/wificards/internal/session"
)

// Server bundles the long-lived resources: the router, the database,
// the session manager, and the rate limiter. All three of the latter
// need explicit teardown on shutdown.
type Server struct {
	router   *chi.Mux
	cfg      *config.Config
	logger   *slog.Logger
	db       *sqliteRepo.DB
	sessions *session.Manager
	limiter  *middleware.RateLimiter
}

// New opens the database and assembles the whole dependency graph:
// repositories, services, handlers, and routes.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.ConfirmTokenTTL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	s := &Server{
		router:   chi.NewRouter(),
		cfg:      cfg,
		logger:   logger,
		db:       db,
		sessions: session.NewManager(db.Prefs(), logger),
		limiter: middleware.NewRateLimiter(middleware.RateLimiterConfig{
			GeneralPerMinute: cfg.RateLimitGeneral,
			AuthPerMinute:    cfg.RateLimitAuth,
			CleanupInterval:  5 * time.Minute,
		}, logger),
	}
	s.setupRoutes(tokens)
	return s, nil
}

func (s *Server) setupRoutes(tokens *auth.TokenService) {
	cfg := s.cfg

	collector := metrics.NewCollector(func() float64 {
		return float64(s.sessions.Count())
	})

	// Services. The OAuth provider is optional; without client
	// credentials the GitHub routes answer 404.
	var github *auth.GitHubProvider
	if cfg.GitHubClientID != "" && cfg.GitHubClientSecret != "" {
		github = auth.NewGitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubCallbackURL)
	} else {
		s.logger.Warn("GitHub OAuth not configured, GitHub sign-in disabled")
	}

	authSvc := service.NewAuthService(s.db.Users(), tokens, auth.NewPasswordService(),
		mailer.NewLogMailer(s.logger), cfg.BaseURL, s.logger)
	cardSvc := service.NewCardService(s.db.Cards(), qr.NewPNGEncoder(), s.logger)

	authHandler := handler.NewAuthHandler(authSvc, cardSvc, s.sessions, github,
		collector, cfg.CookieSecure, cfg.AccessTokenTTL, s.logger)
	cardHandler := handler.NewCardHandler(cardSvc, authSvc, collector, s.logger)
	sessionHandler := handler.NewSessionHandler(s.sessions, authSvc, s.logger)
	prefsHandler := handler.NewPrefsHandler(s.db.Prefs(), s.logger)

	// Global middleware, in order: request ID and real IP first, then
	// panic recovery, then the device cookie and optional auth (the
	// rate limiter keys off both), then logging, metrics, limits.
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(auth.DeviceID(cfg.CookieSecure))
	s.router.Use(auth.OptionalAuth(tokens))
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(collector.Middleware(func(r *http.Request) string {
		if rc := chi.RouteContext(r.Context()); rc != nil {
			return rc.RoutePattern()
		}
		return ""
	}))
	s.router.Use(s.limiter.General)

	// Auth endpoints, with the tighter limit on the ones an attacker
	// would hammer.
	s.router.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Auth)
			r.Post("/signup", authHandler.HandleSignUp)
			r.Post("/signin", authHandler.HandleSignIn)
			r.Post("/confirm", authHandler.HandleConfirm)
			r.Post("/resend", authHandler.HandleResend)
		})
		r.Post("/signout", authHandler.HandleSignOut)
		r.Get("/github/login", authHandler.HandleGitHubLogin)
		r.Get("/github/callback", authHandler.HandleGitHubCallback)
	})

	s.router.Route("/api", func(r chi.Router) {
		// Session phase and prefs work signed out, the device cookie
		// is scope enough.
		r.Get("/session/phase", sessionHandler.HandlePhase)
		r.Post("/session/onboarding", sessionHandler.HandleOnboarding)
		r.Get("/prefs/{key}", prefsHandler.HandleGet)
		r.Put("/prefs/{key}", prefsHandler.HandleSet)
		r.Delete("/prefs/{key}", prefsHandler.HandleDelete)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))

			r.Get("/me", authHandler.HandleMe)
			r.Patch("/me", authHandler.HandleUpdateMe)
			r.Delete("/me", authHandler.HandleDeleteMe)

			r.Get("/cards", cardHandler.HandleList)
			r.Post("/cards", cardHandler.HandleCreate)
			r.Get("/cards/latest", cardHandler.HandleLatest)
			r.Patch("/cards/{id}", cardHandler.HandleUpdate)
			r.Delete("/cards/{id}", cardHandler.HandleDelete)
			r.Delete("/cards", cardHandler.HandleDeleteAll)

			r.Post("/qr/preview", cardHandler.HandlePreview)
		})
	})

	s.router.Method(http.MethodGet, "/metrics", collector.Handler())
	s.router.Get("/healthz", s.handleHealthz)

	if cfg.StaticDir != "" {
		fileServer := http.FileServer(http.Dir(cfg.StaticDir))
		s.router.Handle("/*", fileServer)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.logger.Error("healthz: database ping failed", slog.String("error", err.Error()))
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok"))
}

// Handler returns the root handler. Start serves it; tests drive it
// through httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Close releases the server's resources without going through Start's
// signal loop. Start handles this itself; Close is for tests.
func (s *Server) Close() {
	s.limiter.Stop()
	s.sessions.Stop()
	s.db.Close()
}

// Start runs the HTTP server until SIGINT/SIGTERM, then shuts down in
// order: stop accepting connections, drain in-flight requests, stop
// the background goroutines, close the database.
func (s *Server) Start() error {
	defer s.db.Close()
	defer s.sessions.Stop()
	defer s.limiter.Stop()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.Port),
			slog.String("database", s.cfg.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}
