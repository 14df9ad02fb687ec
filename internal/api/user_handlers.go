package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/cineweave/internal/auth"
	"github.com/digkill/cineweave/internal/models"
	"github.com/digkill/cineweave/internal/service"
	"github.com/digkill/cineweave/internal/storage"
)

var errForbidden = errors.New("access denied")

type initUserResponse struct {
	User    *models.User `json:"user"`
	Created bool         `json:"created"`
}

type createJobRequest struct {
	Prompt      string   `json:"prompt" validate:"required,max=500"`
	ImageURL    *string  `json:"imageUrl" validate:"omitempty,url"`
	DurationSec int      `json:"durationSec"`
	Seed        *int64   `json:"seed"`
	Cfg         *float64 `json:"cfg" validate:"omitempty,gte=1,lte=20"`
}

type createJobResponse struct {
	JobID            string           `json:"jobId"`
	Status           models.JobStatus `json:"status"`
	CreditsUsed      int              `json:"creditsUsed"`
	CreditsRemaining int              `json:"creditsRemaining"`
}

// jobResponse adds a short-lived download link to a finished job.
type jobResponse struct {
	*models.Job
	ArtifactURL *string `json:"artifactUrl,omitempty"`
	Expired     bool    `json:"expired"`
}

type referenceResponse struct {
	ImageURL string `json:"imageUrl"`
}

// currentUser resolves the bearer identity to an account.
func (s *Server) currentUser(r *http.Request) (*models.User, error) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		return nil, auth.ErrUnauthorized
	}
	user, err := s.users.GetByExternalID(r.Context(), identity.Subject)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user not found", service.ErrNotFound)
	}
	return user, nil
}

func (s *Server) handleInitUser(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		s.writeError(w, r, auth.ErrUnauthorized)
		return
	}
	user, created, err := s.users.GetOrCreate(r.Context(), identity.Subject, identity.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, initUserResponse{User: user, Created: created})
}

func (s *Server) handleGetCredits(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	balance, err := s.credits.GetBalance(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, balance)
}

func (s *Server) handleCreditHistory(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.credits.History(r.Context(), user.ID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req createJobRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	job, err := s.dispatcher.Submit(r.Context(), service.CreateJobInput{
		UserID:      user.ID,
		Prompt:      req.Prompt,
		ImageURL:    req.ImageURL,
		DurationSec: req.DurationSec,
		Seed:        req.Seed,
		Cfg:         req.Cfg,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	balance, err := s.credits.GetBalance(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, createJobResponse{
		JobID:            job.ID,
		Status:           job.Status,
		CreditsUsed:      job.CreditsUsed,
		CreditsRemaining: balance.Credits,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if job.UserID != user.ID {
		s.writeError(w, r, errForbidden)
		return
	}
	s.writeJSON(w, http.StatusOK, s.jobView(r, job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	s.listJobs(w, r, s.jobs.ListForUser)
}

func (s *Server) handleRecentJobs(w http.ResponseWriter, r *http.Request) {
	s.listJobs(w, r, s.jobs.RecentForUser)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request, list func(ctx context.Context, userID string, limit int) ([]models.Job, error)) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jobs, err := list(r.Context(), user.ID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		views = append(views, s.jobView(r, &jobs[i]))
	}
	s.writeJSON(w, http.StatusOK, views)
}

// jobView presigns the artifact of a done job that is still inside its
// access window. A presign failure leaves the link out.
func (s *Server) jobView(r *http.Request, job *models.Job) jobResponse {
	view := jobResponse{Job: job, Expired: job.Expired(s.now())}
	if job.Status != models.JobStatusDone || view.Expired || job.ArtifactRef == nil || s.artifacts == nil {
		return view
	}
	link, err := s.artifacts.ArtifactURL(r.Context(), *job.ArtifactRef)
	if err != nil {
		s.log.Warn("presign artifact", "job_id", job.ID, "err", err)
		return view
	}
	view.ArtifactURL = &link
	return view
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	payments, err := s.payments.ListForUser(r.Context(), user.ID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, payments)
}

func (s *Server) handleUploadReference(w http.ResponseWriter, r *http.Request) {
	if _, err := s.currentUser(r); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.artifacts == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "storage is not configured"})
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, storage.MaxReferenceBytes+1))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: read body: %v", errBadRequest, err))
		return
	}
	link, err := s.artifacts.UploadReference(r.Context(), data, r.Header.Get("Content-Type"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, referenceResponse{ImageURL: link})
}
