package database

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/errors"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/values"
	"github.com/davidleathers/claims-fraud-engine/internal/service/fraud"
)

const claimColumns = `id, tenant_id, claim_number, patient_id, provider_id, service_date,
	line_items, billed_amount::text, status, risk_score, risk_level, fraud_types,
	submitted_at, updated_at`

// ClaimRepository stores claims and their fraud alerts in PostgreSQL.
type ClaimRepository struct {
	db *Pool
}

func NewClaimRepository(db *Pool) *ClaimRepository {
	return &ClaimRepository{db: db}
}

// Create inserts a PENDING claim.
func (r *ClaimRepository) Create(ctx context.Context, c *claim.Claim) error {
	lineItems, err := json.Marshal(c.LineItems)
	if err != nil {
		return fmt.Errorf("marshal line items: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO claims (
			id, tenant_id, claim_number, patient_id, provider_id, service_date,
			line_items, billed_amount, status, risk_score, risk_level, fraud_types,
			submitted_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13, $14)`,
		c.ID, c.TenantID, c.ClaimNumber, c.PatientID, c.ProviderID, claim.TruncateDay(c.ServiceDate),
		lineItems, c.BilledAmount.Amount().String(), c.Status.String(), c.RiskScore, string(c.RiskLevel),
		fraudTypeStrings(c.FraudTypes), c.SubmittedAt, c.UpdatedAt,
	)
	if err != nil {
		if IsDuplicateKeyViolation(err) {
			return ErrDuplicateClaim
		}
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

// CompleteAnalysis writes the terminal status and the raised alerts in one
// transaction. Only a PENDING row is updated.
func (r *ClaimRepository) CompleteAnalysis(ctx context.Context, c *claim.Claim, alerts []*claim.FraudAlert) error {
	if !c.Status.IsTerminal() {
		return ErrInvalidTransition
	}

	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE claims
			SET status = $2, risk_score = $3, risk_level = $4, fraud_types = $5, updated_at = $6
			WHERE id = $1 AND status = 'pending'`,
			c.ID, c.Status.String(), c.RiskScore, string(c.RiskLevel), fraudTypeStrings(c.FraudTypes), c.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update claim: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM claims WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
				return fmt.Errorf("check claim: %w", err)
			}
			if !exists {
				return ErrNotFound
			}
			return ErrInvalidTransition
		}

		batch := &pgx.Batch{}
		for _, a := range alerts {
			if !a.Raised() {
				continue
			}
			details, err := json.Marshal(a.Details)
			if err != nil {
				return fmt.Errorf("marshal alert details: %w", err)
			}
			batch.Queue(`
				INSERT INTO fraud_alerts (id, claim_id, type, severity, confidence, description, details, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				a.ID, c.ID, string(a.Type), string(a.Severity), a.Confidence, a.Description, details, a.CreatedAt,
			)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert alerts: %w", err)
		}
		return nil
	})
}

// Discard deletes a claim that is still PENDING. A missing claim is not an
// error; a terminal one is ErrInvalidTransition.
func (r *ClaimRepository) Discard(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM claims WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("delete claim: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM claims WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check claim: %w", err)
	}
	if exists {
		return ErrInvalidTransition
	}
	return nil
}

func (r *ClaimRepository) GetByID(ctx context.Context, id uuid.UUID) (*claim.Claim, error) {
	c, err := scanClaim(r.db.QueryRow(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = $1`, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NewNotFoundError("claim").WithCause(ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get claim: %w", err)
	}
	return c, nil
}

func (r *ClaimRepository) ListByProvider(ctx context.Context, providerID uuid.UUID, since time.Time) ([]*claim.Claim, error) {
	return r.list(ctx, `WHERE provider_id = $1 AND service_date >= $2`, providerID, claim.TruncateDay(since))
}

func (r *ClaimRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, since time.Time) ([]*claim.Claim, error) {
	return r.list(ctx, `WHERE patient_id = $1 AND service_date >= $2`, patientID, claim.TruncateDay(since))
}

func (r *ClaimRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]*claim.Claim, error) {
	return r.list(ctx, `WHERE tenant_id = $1 AND service_date >= $2`, tenantID, claim.TruncateDay(since))
}

// FindDuplicates matches provider, patient, service day and billed amount
// within the submission window.
func (r *ClaimRepository) FindDuplicates(ctx context.Context, q fraud.DuplicateCriteria) ([]*claim.Claim, error) {
	return r.list(ctx, `
		WHERE id <> $1 AND provider_id = $2 AND patient_id = $3 AND service_date = $4
		  AND billed_amount = $5::numeric AND submitted_at BETWEEN $6 AND $7`,
		q.ExcludeClaimID, q.ProviderID, q.PatientID, q.ServiceDate, q.BilledAmount, q.SubmittedFrom, q.SubmittedTo,
	)
}

func (r *ClaimRepository) list(ctx context.Context, where string, args ...interface{}) ([]*claim.Claim, error) {
	rows, err := r.db.Query(ctx, `SELECT `+claimColumns+` FROM claims `+where+` ORDER BY service_date, claim_number`, args...)
	if err != nil {
		return nil, fmt.Errorf("query claims: %w", err)
	}
	defer rows.Close()

	var out []*claim.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListAlerts returns a claim's alerts by descending confidence.
func (r *ClaimRepository) ListAlerts(ctx context.Context, claimID uuid.UUID) ([]*claim.FraudAlert, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, claim_id, type, severity, confidence, description, details, created_at
		FROM fraud_alerts
		WHERE claim_id = $1
		ORDER BY confidence DESC, created_at`, claimID)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	out := []*claim.FraudAlert{}
	for rows.Next() {
		var (
			a                   claim.FraudAlert
			fraudType, severity string
			details             []byte
		)
		if err := rows.Scan(&a.ID, &a.ClaimID, &fraudType, &severity, &a.Confidence, &a.Description, &details, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Type = claim.FraudType(fraudType)
		a.Severity = claim.RiskLevel(severity)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &a.Details); err != nil {
				return nil, fmt.Errorf("decode alert details: %w", err)
			}
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func scanClaim(row pgx.Row) (*claim.Claim, error) {
	var (
		c          claim.Claim
		lineItems  []byte
		billed     string
		status     string
		riskLevel  string
		fraudTypes []string
	)
	err := row.Scan(&c.ID, &c.TenantID, &c.ClaimNumber, &c.PatientID, &c.ProviderID, &c.ServiceDate,
		&lineItems, &billed, &status, &c.RiskScore, &riskLevel, &fraudTypes,
		&c.SubmittedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(lineItems, &c.LineItems); err != nil {
		return nil, fmt.Errorf("decode line items: %w", err)
	}
	if c.BilledAmount, err = values.NewMoneyFromString(billed, values.USD); err != nil {
		return nil, err
	}
	if c.Status, err = claim.ParseStatus(status); err != nil {
		return nil, err
	}
	c.RiskLevel = claim.RiskLevel(riskLevel)
	for _, ft := range fraudTypes {
		c.FraudTypes = append(c.FraudTypes, claim.FraudType(ft))
	}
	c.ServiceDate = c.ServiceDate.UTC()
	c.SubmittedAt = c.SubmittedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func fraudTypeStrings(types []claim.FraudType) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}
