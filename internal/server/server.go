// Package server wires configuration, storage, messaging, and HTTP routing
// into a runnable auth server.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/reeltask/authserver/config"
	"github.com/reeltask/authserver/internal/db"
	"github.com/reeltask/authserver/internal/handlers"
	"github.com/reeltask/authserver/internal/mq"
	"github.com/reeltask/authserver/internal/provision"
	"github.com/reeltask/authserver/internal/ratelimit"
	"github.com/reeltask/authserver/internal/services"
	"github.com/reeltask/authserver/internal/store"
	"github.com/reeltask/authserver/internal/token"
)

// Server wraps the HTTP server, router, and the resources it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	queue      mq.Backend
}

// New constructs a fully wired Server.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Server, error) {
	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	queueBackend, err := mq.FromConfig(ctx, cfg.Queue)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	tokenManager, err := token.NewManager(cfg.JWT, logger)
	if err != nil {
		_ = dbConn.Close()
		_ = queueBackend.Close()
		return nil, err
	}

	userRepo := store.NewUserRepository(dbConn)
	ledgerRepo := store.NewIdempotencyRepository(dbConn)
	verificationRepo := store.NewVerificationTokenRepository(dbConn)
	auditRepo := store.NewAuditRepository(dbConn)

	transport, err := newTransport(cfg.UserService, logger)
	if err != nil {
		_ = dbConn.Close()
		_ = queueBackend.Close()
		return nil, err
	}
	provisioner := provision.NewProvisioner(
		transport,
		provision.NewBreaker(logger),
		logger,
		provision.WithCallTimeout(cfg.UserService.Timeout),
	)
	jobs := provision.NewJobQueue(mq.New(queueBackend), cfg.Queue.Channel, logger)

	auditService := services.NewAuditService(auditRepo, logger)
	verificationService := services.NewVerificationService(verificationRepo, userRepo, logger)
	registrationService := services.NewRegistrationService(
		userRepo,
		ledgerRepo,
		verificationService,
		provisioner,
		jobs,
		auditService,
		tokenManager,
		services.NewPwnedPasswordChecker(cfg.Features.BreachCheck, logger),
		services.NewMXChecker(cfg.Features.MXValidation, logger),
		services.NewRecaptchaVerifier(cfg.Features.CaptchaSecret, logger),
		cfg.JWT.PasswordPepper,
		logger,
	)
	authService := services.NewAuthService(userRepo, tokenManager, auditService, cfg.JWT.PasswordPepper, logger)

	authHandler := handlers.NewAuthHandler(registrationService, authService, verificationService, tokenManager, logger)

	limiter := ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.Max)
	limitSensitive := ratelimit.Middleware(limiter, false)
	limitRegister := ratelimit.Middleware(limiter, true)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Handle("/metrics", promhttp.Handler())
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authHandler, limitSensitive, limitRegister)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		queue:      queueBackend,
	}, nil
}

// newTransport selects the downstream transport. With gRPC enabled the HTTP
// transport rides along as fallback for when the gRPC path errors.
func newTransport(cfg config.UserServiceConfig, logger zerolog.Logger) (provision.Transport, error) {
	httpTransport := provision.NewHTTPTransport(cfg.URL)
	if !cfg.UseGRPC {
		return httpTransport, nil
	}
	grpcTransport, err := provision.NewGRPCTransport(cfg.URL)
	if err != nil {
		return nil, err
	}
	return provision.NewFallbackTransport(grpcTransport, httpTransport, logger), nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown and releases owned resources.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.queue != nil {
		_ = s.queue.Close()
	}
	return s.httpServer.Shutdown(ctx)
}
