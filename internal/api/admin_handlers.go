package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/cineweave/internal/models"
	"github.com/digkill/cineweave/internal/service"
)

type planResponse struct {
	models.Plan
	PriceDisplay string `json:"priceDisplay"`
}

type createPaymentRequest struct {
	UserID        string `json:"userId" validate:"required"`
	ExternalTxnID string `json:"externalTxnId" validate:"required"`
	Amount        int    `json:"amount" validate:"gte=0"`
	Credits       int    `json:"credits" validate:"gte=0"`
}

type paymentStatusRequest struct {
	Status models.PaymentStatus `json:"status" validate:"required,oneof=pending completed failed"`
}

type changePlanRequest struct {
	Plan    string `json:"plan" validate:"required"`
	Credits int    `json:"credits" validate:"gte=0"`
}

type jobStatusRequest struct {
	Status       models.JobStatus `json:"status" validate:"required,oneof=queued running done failed"`
	RunnerRef    *string          `json:"runnerRef"`
	ArtifactRef  *string          `json:"artifactRef"`
	ErrorMessage *string          `json:"errorMessage"`
}

type reconcileResponse struct {
	UserID     string `json:"userId"`
	Reconciled bool   `json:"reconciled"`
	*service.Reconciliation
}

type refreshResponse struct {
	JobID   string               `json:"jobId"`
	Outcome service.EventOutcome `json:"outcome"`
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.plans.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, planResponse{Plan: p, PriceDisplay: service.PriceDisplay(p.Price)})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSeedPlans(w http.ResponseWriter, r *http.Request) {
	res, err := s.plans.Seed(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Seeded {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, res)
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	payment, err := s.payments.Create(r.Context(), req.UserID, req.ExternalTxnID, req.Amount, req.Credits)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, payment)
}

func (s *Server) handleUpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req paymentStatusRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	payment, err := s.payments.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, payment)
}

func (s *Server) handleGetPaymentByTxn(w http.ResponseWriter, r *http.Request) {
	payment, err := s.payments.GetByExternalID(r.Context(), chi.URLParam(r, "txn"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if payment == nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "payment not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, payment)
}

func (s *Server) handleChangePlan(w http.ResponseWriter, r *http.Request) {
	var req changePlanRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.users.ChangePlan(r.Context(), chi.URLParam(r, "id"), req.Plan, req.Credits)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

// handleReconcile reports drift in the body rather than as an error status.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	rec, err := s.credits.Reconcile(r.Context(), userID)
	if err != nil && !(errors.Is(err, service.ErrLedgerMismatch) && rec != nil) {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, reconcileResponse{UserID: userID, Reconciled: err == nil, Reconciliation: rec})
}

func (s *Server) handleTransitionJob(w http.ResponseWriter, r *http.Request) {
	var req jobStatusRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.jobs.Transition(r.Context(), service.TransitionInput{
		JobID:        chi.URLParam(r, "id"),
		Status:       req.Status,
		RunnerRef:    req.RunnerRef,
		ArtifactRef:  req.ArtifactRef,
		ErrorMessage: req.ErrorMessage,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleRefreshJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	outcome, err := s.dispatcher.Refresh(r.Context(), jobID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, refreshResponse{JobID: jobID, Outcome: outcome})
}
