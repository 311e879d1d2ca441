package database

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/audit"
)

// AuditRepository appends scoring decisions to a per-tenant hash chain.
// The audit_log table rejects updates and deletes.
type AuditRepository struct {
	db *Pool
}

func NewAuditRepository(db *Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append seals the entry against the tenant's latest hash and inserts it.
// A transaction-scoped advisory lock serialises appends per tenant.
func (r *AuditRepository) Append(ctx context.Context, entry *audit.Entry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}

	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, entry.TenantID.String()); err != nil {
			return fmt.Errorf("lock audit chain: %w", err)
		}

		previous, err := latestHash(ctx, tx, entry.TenantID)
		if err != nil {
			return err
		}
		if err := entry.Seal(previous); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO audit_log (id, tenant_id, actor, action, claim_id, details, timestamp, previous_hash, entry_hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			entry.ID, entry.TenantID, entry.Actor, string(entry.Action), entry.ClaimID,
			details, entry.Timestamp, entry.PreviousHash, entry.EntryHash,
		)
		if err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
		return nil
	})
}

// AuditTrail returns the tenant's chain in append order.
func (r *AuditRepository) AuditTrail(ctx context.Context, tenantID uuid.UUID) ([]*audit.Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, tenant_id, actor, action, claim_id, details, timestamp, previous_hash, entry_hash
		FROM audit_log
		WHERE tenant_id = $1
		ORDER BY sequence`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []*audit.Entry
	for rows.Next() {
		var (
			e       audit.Entry
			action  string
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Actor, &action, &e.ClaimID, &details,
			&e.Timestamp, &e.PreviousHash, &e.EntryHash); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = audit.Action(action)
		e.Timestamp = e.Timestamp.UTC()
		if len(details) > 0 && string(details) != "null" {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func latestHash(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID) (string, error) {
	var hash string
	err := tx.QueryRow(ctx, `
		SELECT entry_hash FROM audit_log
		WHERE tenant_id = $1
		ORDER BY sequence DESC
		LIMIT 1`, tenantID).Scan(&hash)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get latest audit hash: %w", err)
	}
	return hash, nil
}
