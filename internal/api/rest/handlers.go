package rest

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/service/claims"
	"github.com/davidleathers/claims-fraud-engine/internal/service/fraud"
	"github.com/davidleathers/claims-fraud-engine/internal/service/network"
	"github.com/davidleathers/claims-fraud-engine/internal/service/risk"
)

const maxLookbackDays = 730

// ClaimProcessor is the claim intake surface. *claims.Processor implements it.
type ClaimProcessor interface {
	ProcessClaim(ctx context.Context, req claims.Request) (*claim.AnalysisResult, error)
	ProcessBatch(ctx context.Context, reqs []claims.Request) *claims.BatchResult
	Precheck(ctx context.Context, sub claim.Submission) (risk.RealTimeResult, error)
	RetryPending(ctx context.Context, actor string, claimID uuid.UUID) (*claim.AnalysisResult, error)
}

// ClaimScorer rescores a stored claim. *risk.Engine implements it.
type ClaimScorer interface {
	ScoreClaim(ctx context.Context, claimID uuid.UUID) (*risk.Score, error)
}

// ProviderDetector runs the provider-level detectors.
type ProviderDetector interface {
	DetectUpcoding(ctx context.Context, providerID uuid.UUID, lookbackDays int) (*fraud.UpcodingResult, error)
	DetectPhantomBilling(ctx context.Context, providerID uuid.UUID, lookbackDays int) (*fraud.PhantomBillingResult, error)
}

// NetworkAnalyzer analyzes one tenant's provider network.
type NetworkAnalyzer interface {
	AnalyzeNetwork(ctx context.Context, scopeID uuid.UUID, lookbackDays int) (*network.AnalysisResult, error)
}

var (
	_ ClaimProcessor  = (*claims.Processor)(nil)
	_ ClaimScorer     = (*risk.Engine)(nil)
	_ NetworkAnalyzer = (*network.Analyzer)(nil)
)

// Services are the handlers' collaborators. Network may be nil when
// analysis is disabled.
type Services struct {
	Processor ClaimProcessor
	Scorer    ClaimScorer
	Detector  ProviderDetector
	Network   NetworkAnalyzer
	Alerts    claims.AlertReader
}

// Handler serves the claims scoring API.
type Handler struct {
	baseHandler
	services Services
}

// BatchRequest is the body of POST /api/v1/claims/batch.
type BatchRequest struct {
	Claims []claims.Request `json:"claims" validate:"required,min=1,max=1000"`
}

// BatchItemResponse is one batch outcome; exactly one of Result and Error
// is set unless a persistence failure kept the result.
type BatchItemResponse struct {
	Index  int                   `json:"index"`
	Result *claim.AnalysisResult `json:"result,omitempty"`
	Error  *ErrorResponse        `json:"error,omitempty"`
}

// BatchResponse summarizes a batch.
type BatchResponse struct {
	Items      []BatchItemResponse `json:"items"`
	Approved   int                 `json:"approved"`
	Flagged    int                 `json:"flagged"`
	Failed     int                 `json:"failed"`
	DurationMS int64               `json:"duration_ms"`
}

// ProcessClaimResponse wraps a single scoring result. Persisted is false
// when scoring finished but the write did not; POST
// /api/v1/claims/{id}/persist repeats the write.
type ProcessClaimResponse struct {
	Result    *claim.AnalysisResult `json:"result"`
	Persisted bool                  `json:"persisted"`
}

func (h *Handler) processClaim(w http.ResponseWriter, r *http.Request) {
	var req claims.Request
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.services.Processor.ProcessClaim(r.Context(), req)
	if err != nil {
		if result == nil {
			h.writeError(w, r, err)
			return
		}
		h.logger.Warn("claim scored but not persisted",
			zap.String("claim_id", result.ClaimID.String()),
			zap.Error(err))
		h.writeSuccess(w, r, http.StatusAccepted, ProcessClaimResponse{Result: result})
		return
	}
	h.writeSuccess(w, r, http.StatusCreated, ProcessClaimResponse{Result: result, Persisted: true})
}

// retryPersist repeats the completion write of a claim answered with
// persisted=false. The optional ?actor names who retried.
func (h *Handler) retryPersist(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.services.Processor.RetryPending(r.Context(), r.URL.Query().Get("actor"), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, r, http.StatusOK, ProcessClaimResponse{Result: result, Persisted: true})
}

// AlertsResponse lists the persisted alerts of one claim.
type AlertsResponse struct {
	ClaimID uuid.UUID           `json:"claim_id"`
	Alerts  []*claim.FraudAlert `json:"alerts"`
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	alerts, err := h.services.Alerts.ListAlerts(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []*claim.FraudAlert{}
	}
	h.writeSuccess(w, r, http.StatusOK, AlertsResponse{ClaimID: id, Alerts: alerts})
}

func (h *Handler) processBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res := h.services.Processor.ProcessBatch(r.Context(), req.Claims)
	out := BatchResponse{
		Items:      make([]BatchItemResponse, len(res.Items)),
		Approved:   res.Approved,
		Flagged:    res.Flagged,
		Failed:     res.Failed,
		DurationMS: res.Duration.Milliseconds(),
	}
	for i, item := range res.Items {
		out.Items[i] = BatchItemResponse{Index: item.Index, Result: item.Result}
		if item.Err != nil {
			_, out.Items[i].Error = mapError(item.Err)
		}
	}
	h.writeSuccess(w, r, http.StatusOK, out)
}

func (h *Handler) precheck(w http.ResponseWriter, r *http.Request) {
	var sub claim.Submission
	if err := h.decodeBody(w, r, &sub); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.services.Processor.Precheck(r.Context(), sub)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, r, http.StatusOK, res)
}

func (h *Handler) scoreClaim(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	score, err := h.services.Scorer.ScoreClaim(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, r, http.StatusOK, score)
}

func (h *Handler) detectUpcoding(w http.ResponseWriter, r *http.Request) {
	id, lookback, err := providerParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.services.Detector.DetectUpcoding(r.Context(), id, lookback)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, r, http.StatusOK, res)
}

func (h *Handler) detectPhantomBilling(w http.ResponseWriter, r *http.Request) {
	id, lookback, err := providerParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.services.Detector.DetectPhantomBilling(r.Context(), id, lookback)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, r, http.StatusOK, res)
}

func (h *Handler) analyzeNetwork(w http.ResponseWriter, r *http.Request) {
	scope, err := pathUUID(r, "scope")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	lookback, err := lookbackDays(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.services.Network.AnalyzeNetwork(r.Context(), scope, lookback)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, r, http.StatusOK, res)
}

func providerParams(r *http.Request) (uuid.UUID, int, error) {
	id, err := pathUUID(r, "id")
	if err != nil {
		return uuid.Nil, 0, err
	}
	lookback, err := lookbackDays(r)
	return id, lookback, err
}

// lookbackDays reads ?lookback_days; 0 means the service default.
func lookbackDays(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("lookback_days")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxLookbackDays {
		return 0, &ValidationError{
			Message: "invalid lookback_days",
			Fields:  map[string][]string{"lookback_days": {"Must be an integer between 1 and " + strconv.Itoa(maxLookbackDays)}},
		}
	}
	return n, nil
}

// withTimeout bounds a handler's context.
func withTimeout(d time.Duration, next http.HandlerFunc) http.HandlerFunc {
	if d <= 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		next(w, r.WithContext(ctx))
	}
}
