package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/digkill/cineweave/internal/auth"
	"github.com/digkill/cineweave/internal/runner"
	"github.com/digkill/cineweave/internal/service"
)

const (
	SignatureHeader = "X-Runner-Signature"
	webhookScope    = "runner-webhook"
)

type webhookResponse struct {
	Status service.EventOutcome `json:"status"`
}

// handleRunnerWebhook applies a runner callback. Deliveries are keyed by
// runner id and status so a retried callback is acknowledged without effect.
func (s *Server) handleRunnerWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: read body: %v", errBadRequest, err))
		return
	}
	if s.webhookSecret != "" && !runner.VerifySignature(s.webhookSecret, body, r.Header.Get(SignatureHeader)) {
		s.log.Warn("runner webhook signature mismatch", "request_ip", r.RemoteAddr)
		s.writeError(w, r, auth.ErrUnauthorized)
		return
	}

	var doc runner.JobDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: invalid json: %v", errBadRequest, err))
		return
	}
	if strings.TrimSpace(doc.ID) == "" {
		s.writeError(w, r, fmt.Errorf("%w: missing id", errBadRequest))
		return
	}

	ctx := r.Context()
	deliveryID := doc.ID + ":" + strings.ToUpper(doc.Status)
	marked := false
	if s.deduper != nil {
		seen, err := s.deduper.CheckAndMark(ctx, webhookScope, deliveryID)
		switch {
		case err != nil:
			// job transitions are still guarded by the state machine
			s.log.Warn("idempotency check failed", "delivery", deliveryID, "err", err)
		case seen:
			s.log.Info("runner webhook already processed", "delivery", deliveryID)
			s.writeJSON(w, http.StatusOK, webhookResponse{Status: service.EventDuplicate})
			return
		default:
			marked = true
		}
	}

	outcome, err := s.dispatcher.HandleRunnerEvent(ctx, doc.Event())
	// an ignored delivery may precede job creation; its redelivery must be applied
	if marked && (err != nil || outcome == service.EventIgnored) {
		if rerr := s.deduper.Release(context.WithoutCancel(ctx), webhookScope, deliveryID); rerr != nil {
			s.log.Error("release idempotency key", "delivery", deliveryID, "err", rerr)
		}
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("runner webhook handled", "runner_ref", doc.ID, "status", doc.Status, "outcome", outcome)
	s.writeJSON(w, http.StatusOK, webhookResponse{Status: outcome})
}
