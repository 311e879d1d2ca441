package claims

import (
	"context"

	"github.com/google/uuid"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/audit"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/service/risk"
)

// ClaimWriter persists claims. CompleteAnalysis must move the claim from
// PENDING to its terminal status and insert the alerts in one transaction.
// Discard deletes a claim only while it is still PENDING.
type ClaimWriter interface {
	Create(ctx context.Context, c *claim.Claim) error
	CompleteAnalysis(ctx context.Context, c *claim.Claim, alerts []*claim.FraudAlert) error
	Discard(ctx context.Context, id uuid.UUID) error
}

// AlertReader lists the persisted alerts of a claim.
type AlertReader interface {
	ListAlerts(ctx context.Context, claimID uuid.UUID) ([]*claim.FraudAlert, error)
}

// AuditLogger appends entries to the tenant's audit chain.
type AuditLogger interface {
	Append(ctx context.Context, entry *audit.Entry) error
}

// Assessor scores a pending claim. *risk.Engine implements it.
type Assessor interface {
	Assess(ctx context.Context, c *claim.Claim) (*risk.Assessment, error)
	ScoreRealTime(sub claim.Submission) risk.RealTimeResult
}

var _ Assessor = (*risk.Engine)(nil)
