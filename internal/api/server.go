package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/digkill/cineweave/internal/auth"
	"github.com/digkill/cineweave/internal/metrics"
	"github.com/digkill/cineweave/internal/service"
)

// ArtifactStore is the object storage the API reads videos from and writes
// reference images to.
type ArtifactStore interface {
	ArtifactURL(ctx context.Context, artifactRef string) (string, error)
	UploadReference(ctx context.Context, data []byte, contentType string) (string, error)
}

// Deduper remembers runner deliveries that were already applied.
type Deduper interface {
	CheckAndMark(ctx context.Context, scope, id string) (bool, error)
	Release(ctx context.Context, scope, id string) error
}

// Deps carries everything the server needs. Artifacts, Deduper, Gatherer and
// HealthCheck are optional.
type Deps struct {
	Addr            string
	Environment     string
	AdminUsername   string
	AdminPassword   string
	WebhookSecret   string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	Log        *slog.Logger
	Metrics    *metrics.Recorder
	Gatherer   prometheus.Gatherer
	Verifier   *auth.Verifier
	Users      *service.UserService
	Credits    *service.CreditService
	Jobs       *service.JobService
	Plans      *service.PlanService
	Payments   *service.PaymentService
	Dispatcher *service.Dispatcher

	Artifacts   ArtifactStore
	Deduper     Deduper
	HealthCheck func(ctx context.Context) error
}

type Server struct {
	addr            string
	environment     string
	username        string
	password        string
	webhookSecret   string
	shutdownTimeout time.Duration

	log        *slog.Logger
	metrics    *metrics.Recorder
	verifier   *auth.Verifier
	users      *service.UserService
	credits    *service.CreditService
	jobs       *service.JobService
	plans      *service.PlanService
	payments   *service.PaymentService
	dispatcher *service.Dispatcher
	artifacts  ArtifactStore
	deduper    Deduper
	health     func(ctx context.Context) error

	validate *validator.Validate
	now      func() time.Time
	router   *chi.Mux
}

func NewServer(d Deps) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:            d.Addr,
		environment:     d.Environment,
		username:        d.AdminUsername,
		password:        d.AdminPassword,
		webhookSecret:   d.WebhookSecret,
		shutdownTimeout: d.ShutdownTimeout,
		log:             d.Log,
		metrics:         d.Metrics,
		verifier:        d.Verifier,
		users:           d.Users,
		credits:         d.Credits,
		jobs:            d.Jobs,
		plans:           d.Plans,
		payments:        d.Payments,
		dispatcher:      d.Dispatcher,
		artifacts:       d.Artifacts,
		deduper:         d.Deduper,
		health:          d.HealthCheck,
		validate:        validator.New(validator.WithRequiredStructEnabled()),
		now:             func() time.Time { return time.Now().UTC() },
		router:          r,
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 10 * time.Second
	}

	r.Use(s.requestLogger)
	if d.RequestTimeout > 0 {
		r.Use(middleware.Timeout(d.RequestTimeout))
	}

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r.Get("/health", s.handleHealth)
	r.Get("/plans", s.handleListPlans)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Post("/webhooks/runner", s.handleRunnerWebhook)

	r.Group(func(user chi.Router) {
		user.Use(s.bearerAuthMiddleware)
		user.Post("/users/init", s.handleInitUser)
		user.Get("/credits", s.handleGetCredits)
		user.Get("/credits/history", s.handleCreditHistory)
		user.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleCreateJob)
			r.Post("/create", s.handleCreateJob)
			r.Get("/", s.handleListJobs)
			r.Get("/recent", s.handleRecentJobs)
			r.Post("/references", s.handleUploadReference)
			r.Get("/{id}", s.handleGetJob)
		})
		user.Get("/payments", s.handleListPayments)
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(s.basicAuthMiddleware)
		admin.Post("/plans/seed", s.handleSeedPlans)
		admin.Post("/payments", s.handleCreatePayment)
		admin.Post("/payments/{id}/status", s.handleUpdatePaymentStatus)
		admin.Get("/payments/by-txn/{txn}", s.handleGetPaymentByTxn)
		admin.Post("/users/{id}/plan", s.handleChangePlan)
		admin.Get("/users/{id}/reconcile", s.handleReconcile)
		admin.Post("/jobs/{id}/status", s.handleTransitionJob)
		admin.Post("/jobs/{id}/refresh", s.handleRefreshJob)
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("api shutdown error", "err", err)
		}
	}()

	s.log.Info("api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

type healthResponse struct {
	Status      string `json:"status"`
	Environment string `json:"environment"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Environment: s.environment}
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.log.Warn("health check failed", "err", err)
			resp.Status = "degraded"
			s.writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}
