package claims

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/audit"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/errors"
	"github.com/davidleathers/claims-fraud-engine/internal/metrics"
	"github.com/davidleathers/claims-fraud-engine/internal/service/risk"
)

const (
	defaultActor   = "system"
	discardTimeout = 5 * time.Second
)

// Config tunes the processor.
type Config struct {
	// ApprovalThreshold is the score below which an alert-free claim is
	// approved automatically.
	ApprovalThreshold float64 `koanf:"approval_threshold"`
	// BatchConcurrency caps claims scored in parallel by ProcessBatch.
	BatchConcurrency int `koanf:"concurrency"`
}

func DefaultConfig() Config {
	return Config{ApprovalThreshold: 30, BatchConcurrency: 10}
}

func (c Config) Validate() error {
	if c.ApprovalThreshold <= 0 || c.ApprovalThreshold > 100 {
		return errors.NewValidationError("INVALID_APPROVAL_THRESHOLD", "approval threshold must be within (0,100]")
	}
	if c.BatchConcurrency <= 0 {
		return errors.NewValidationError("INVALID_BATCH_CONCURRENCY", "batch concurrency must be positive")
	}
	return nil
}

// Request is one claim submitted for scoring. TenantID fills an empty
// submission tenant and must match a non-empty one.
type Request struct {
	TenantID   uuid.UUID        `json:"tenant_id"`
	Actor      string           `json:"actor,omitempty"`
	Submission claim.Submission `json:"submission"`
}

// Processor is the claim intake entry point. It owns the claim lifecycle
// from PENDING to its single terminal transition.
type Processor struct {
	engine  Assessor
	claims  ClaimWriter
	audit   AuditLogger
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Registry
	tracer  trace.Tracer
	pending *pendingResults
}

// NewProcessor wires the processor. The audit logger may be nil.
func NewProcessor(engine Assessor, claims ClaimWriter, auditLog AuditLogger, cfg Config, logger *zap.Logger, m *metrics.Registry) (*Processor, error) {
	if engine == nil {
		return nil, errors.NewValidationError("INVALID_ENGINE", "risk engine cannot be nil")
	}
	if claims == nil {
		return nil, errors.NewValidationError("INVALID_CLAIM_WRITER", "claim writer cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		engine:  engine,
		claims:  claims,
		audit:   auditLog,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "claim_processor")),
		metrics: m,
		tracer:  otel.Tracer("github.com/davidleathers/claims-fraud-engine/internal/service/claims"),
		pending: newPendingResults(DefaultPendingCapacity),
	}, nil
}

// ProcessClaim validates, scores and completes one claim. A failed write
// after scoring returns the result together with a PERSISTENCE error; the
// result is kept so RetryPending can repeat the write without rescoring.
// A claim that fails scoring is discarded rather than left PENDING.
func (p *Processor) ProcessClaim(ctx context.Context, req Request) (*claim.AnalysisResult, error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "claims.ProcessClaim")
	defer span.End()

	sub, err := req.submission()
	if err != nil {
		return nil, err
	}
	c, err := claim.NewClaim(sub)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("claim_id", c.ID.String()),
		attribute.String("claim_number", c.ClaimNumber),
		attribute.String("provider_id", c.ProviderID.String()))

	if err := p.claims.Create(ctx, c); err != nil {
		p.metrics.RecordPersistFailure(ctx, "create_claim")
		span.RecordError(err)
		span.SetStatus(codes.Error, "create claim")
		return nil, errors.NewPersistenceError("claim").WithCause(err)
	}

	assessment, err := p.engine.Assess(ctx, c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assess claim")
		p.discard(ctx, c)
		return nil, err
	}

	score := assessment.Score
	approved := claim.ShouldApprove(score.OverallScore, p.cfg.ApprovalThreshold, assessment.Alerts)
	if err := c.Complete(score.OverallScore, score.RiskLevel, assessment.FraudTypes(), approved); err != nil {
		return nil, errors.NewBusinessError("INVALID_TRANSITION", err.Error())
	}
	result := newResult(c, assessment, approved)

	p.metrics.RecordClaimScored(ctx, time.Since(start), string(result.RiskLevel), approved)
	span.SetAttributes(
		attribute.Float64("risk_score", result.RiskScore),
		attribute.Bool("approved", approved),
		attribute.String("disposition", string(result.Disposition)))

	if err := p.persist(ctx, result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist analysis")
		p.keepPending(result)
		return result, err
	}
	p.recordAudit(ctx, req.actor(), result)

	p.logger.Info("claim processed",
		zap.String("claim_number", result.ClaimNumber),
		zap.Float64("risk_score", result.RiskScore),
		zap.String("risk_level", string(result.RiskLevel)),
		zap.Bool("approved", approved),
		zap.String("disposition", string(result.Disposition)),
		zap.Int("alerts", len(result.Alerts)),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

// RetryPersist repeats the completion write of an already scored result.
func (p *Processor) RetryPersist(ctx context.Context, actor string, result *claim.AnalysisResult) error {
	if result == nil || result.Claim == nil {
		return errors.NewValidationError("INVALID_RESULT", "result carries no claim to persist")
	}
	if !result.Claim.Status.IsTerminal() {
		return errors.NewValidationError("INVALID_RESULT", "claim has not been scored")
	}
	if err := p.persist(ctx, result); err != nil {
		return err
	}
	p.pending.remove(result.ClaimID)
	if actor == "" {
		actor = defaultActor
	}
	p.appendAudit(ctx, actor, audit.ActionPersistRetried, result, nil)
	p.recordAudit(ctx, actor, result)
	return nil
}

// RetryPending repeats the failed completion write of a claim scored by
// this processor. Only results whose write failed are held; anything else
// is NOT_FOUND.
func (p *Processor) RetryPending(ctx context.Context, actor string, claimID uuid.UUID) (*claim.AnalysisResult, error) {
	result, ok := p.pending.get(claimID)
	if !ok {
		return nil, errors.NewNotFoundError("pending claim analysis").
			WithDetails(map[string]interface{}{"claim_id": claimID.String()})
	}
	if err := p.RetryPersist(ctx, actor, result); err != nil {
		return result, err
	}
	p.logger.Info("claim analysis persisted on retry",
		zap.String("claim_number", result.ClaimNumber),
		zap.String("actor", actor))
	return result, nil
}

func (p *Processor) keepPending(result *claim.AnalysisResult) {
	if evicted, ok := p.pending.put(result); ok {
		p.logger.Warn("pending analysis evicted; claim stays pending",
			zap.String("claim_id", evicted.String()))
	}
}

// discard removes a claim that could not be scored. The delete outlives a
// cancelled request context.
func (p *Processor) discard(ctx context.Context, c *claim.Claim) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discardTimeout)
	defer cancel()
	if err := p.claims.Discard(ctx, c.ID); err != nil {
		p.metrics.RecordPersistFailure(ctx, "discard_claim")
		p.logger.Error("failed to discard unscored claim",
			zap.String("claim_number", c.ClaimNumber),
			zap.Error(err))
	}
}

// Precheck returns the inline real-time score of a submission.
func (p *Processor) Precheck(ctx context.Context, sub claim.Submission) (risk.RealTimeResult, error) {
	if err := sub.Validate(); err != nil {
		return risk.RealTimeResult{}, err
	}
	res := p.engine.ScoreRealTime(sub.Normalized())
	p.metrics.RecordRealtimeScore(ctx, res.ProcessingRecommendation)
	return res, nil
}

func (p *Processor) persist(ctx context.Context, result *claim.AnalysisResult) error {
	if err := p.claims.CompleteAnalysis(ctx, result.Claim, result.Alerts); err != nil {
		p.metrics.RecordPersistFailure(ctx, "complete_analysis")
		p.logger.Error("failed to persist claim analysis",
			zap.String("claim_number", result.ClaimNumber),
			zap.Error(err))
		return errors.NewPersistenceError("claim analysis").WithCause(err)
	}
	return nil
}

// recordAudit writes the decision entries for a persisted result.
func (p *Processor) recordAudit(ctx context.Context, actor string, result *claim.AnalysisResult) {
	details := map[string]interface{}{
		"risk_score":  result.RiskScore,
		"risk_level":  string(result.RiskLevel),
		"disposition": string(result.Disposition),
	}
	if result.Approved {
		p.appendAudit(ctx, actor, audit.ActionAutoApproved, result, details)
		return
	}

	types := make([]string, 0, len(result.FraudTypes))
	for _, t := range result.FraudTypes {
		types = append(types, string(t))
	}
	details["fraud_types"] = types
	p.appendAudit(ctx, actor, audit.ActionFlagRaised, result, details)

	if result.Disposition == claim.DispositionInvestigate {
		p.appendAudit(ctx, actor, audit.ActionInvestigationTriggered, result, map[string]interface{}{
			"audit_triggers": result.AuditTriggers,
		})
	}
}

// appendAudit never fails the request; audit errors are logged.
func (p *Processor) appendAudit(ctx context.Context, actor string, action audit.Action, result *claim.AnalysisResult, details map[string]interface{}) {
	if p.audit == nil {
		return
	}
	entry, err := audit.NewEntry(result.Claim.TenantID, actor, action, result.ClaimID, details)
	if err == nil {
		err = p.audit.Append(ctx, entry)
	}
	if err != nil {
		p.logger.Error("failed to append audit entry",
			zap.String("action", string(action)),
			zap.String("claim_number", result.ClaimNumber),
			zap.Error(err))
	}
}

func newResult(c *claim.Claim, a *risk.Assessment, approved bool) *claim.AnalysisResult {
	s := a.Score
	alerts := a.Alerts
	if alerts == nil {
		alerts = []*claim.FraudAlert{}
	}
	fraudTypes := c.FraudTypes
	if fraudTypes == nil {
		fraudTypes = []claim.FraudType{}
	}
	return &claim.AnalysisResult{
		ClaimID:         c.ID,
		ClaimNumber:     c.ClaimNumber,
		RiskScore:       s.OverallScore,
		RiskLevel:       s.RiskLevel,
		Confidence:      s.Confidence,
		Breakdown:       s.Breakdown,
		FraudTypes:      fraudTypes,
		Alerts:          alerts,
		KeyDrivers:      s.KeyDrivers,
		Recommendations: s.Recommendations,
		AuditTriggers:   s.AuditTriggers,
		Approved:        approved,
		Disposition:     claim.ChooseDisposition(approved, s.RiskLevel, alerts),
		Claim:           c,
	}
}

func (r Request) submission() (claim.Submission, error) {
	sub := r.Submission
	switch {
	case r.TenantID == uuid.Nil:
	case sub.TenantID == uuid.Nil:
		sub.TenantID = r.TenantID
	case sub.TenantID != r.TenantID:
		return sub, errors.NewValidationError("TENANT_MISMATCH",
			fmt.Sprintf("submission tenant %s does not match request tenant %s", sub.TenantID, r.TenantID))
	}
	return sub, nil
}

func (r Request) actor() string {
	if r.Actor == "" {
		return defaultActor
	}
	return r.Actor
}

// BatchItem is the outcome of one request in a batch, in request order.
type BatchItem struct {
	Index  int                   `json:"index"`
	Result *claim.AnalysisResult `json:"result,omitempty"`
	Err    error                 `json:"-"`
}

// BatchResult summarizes a batch.
type BatchResult struct {
	Items    []BatchItem   `json:"items"`
	Approved int           `json:"approved"`
	Flagged  int           `json:"flagged"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// ProcessBatch scores requests with bounded concurrency. One item's failure
// never affects the others; a persistence failure keeps its result.
func (p *Processor) ProcessBatch(ctx context.Context, reqs []Request) *BatchResult {
	start := time.Now()
	p.metrics.BatchInFlight(1)
	defer p.metrics.BatchInFlight(-1)

	out := &BatchResult{Items: make([]BatchItem, len(reqs))}

	var g errgroup.Group
	g.SetLimit(p.cfg.BatchConcurrency)
	for i := range reqs {
		i := i
		g.Go(func() error {
			item := BatchItem{Index: i}
			if err := ctx.Err(); err != nil {
				item.Err = err
			} else {
				item.Result, item.Err = p.ProcessClaim(ctx, reqs[i])
			}
			if item.Err != nil {
				p.logger.Warn("batch item failed", zap.Int("index", i), zap.Error(item.Err))
			}
			out.Items[i] = item
			return nil
		})
	}
	_ = g.Wait()

	for _, item := range out.Items {
		switch {
		case item.Err != nil:
			out.Failed++
		case item.Result.Approved:
			out.Approved++
		default:
			out.Flagged++
		}
	}
	out.Duration = time.Since(start)
	p.metrics.RecordBatch(ctx, len(reqs), out.Failed, out.Duration)

	p.logger.Info("batch processed",
		zap.Int("size", len(reqs)),
		zap.Int("approved", out.Approved),
		zap.Int("flagged", out.Flagged),
		zap.Int("failed", out.Failed),
		zap.Duration("duration", out.Duration))
	return out
}
