package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/errors"
)

// Action names a significant scoring decision.
type Action string

const (
	ActionFlagRaised             Action = "FLAG_RAISED"
	ActionAutoApproved           Action = "AUTO_APPROVED"
	ActionInvestigationTriggered Action = "INVESTIGATION_TRIGGERED"
	ActionPersistRetried         Action = "PERSIST_RETRIED"
)

// Entry is an append-only audit record. Entries for a tenant form a hash
// chain: EntryHash covers the content and PreviousHash.
type Entry struct {
	ID           uuid.UUID              `json:"id"`
	TenantID     uuid.UUID              `json:"tenant_id"`
	Actor        string                 `json:"actor"`
	Action       Action                 `json:"action"`
	ClaimID      uuid.UUID              `json:"claim_id"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
	PreviousHash string                 `json:"previous_hash,omitempty"`
	EntryHash    string                 `json:"entry_hash"`
}

// NewEntry validates and stamps an entry. The hash is sealed by Seal once the
// store knows the previous hash.
func NewEntry(tenantID uuid.UUID, actor string, action Action, claimID uuid.UUID, details map[string]interface{}) (*Entry, error) {
	if tenantID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_TENANT", "audit entry requires a tenant")
	}
	if actor == "" {
		return nil, errors.NewValidationError("INVALID_ACTOR", "audit entry requires an actor")
	}
	switch action {
	case ActionFlagRaised, ActionAutoApproved, ActionInvestigationTriggered, ActionPersistRetried:
	default:
		return nil, errors.NewValidationError("INVALID_ACTION", fmt.Sprintf("unknown audit action %q", action))
	}

	return &Entry{
		ID:       uuid.New(),
		TenantID: tenantID,
		Actor:    actor,
		Action:   action,
		ClaimID:  claimID,
		Details:  details,
		// postgres keeps microseconds; the hash must survive a round trip
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
	}, nil
}

// Seal links the entry to its predecessor and computes its hash.
func (e *Entry) Seal(previousHash string) error {
	e.PreviousHash = previousHash
	hash, err := e.computeHash()
	if err != nil {
		return err
	}
	e.EntryHash = hash
	return nil
}

// Verify recomputes the hash and compares it with the stored one.
func (e *Entry) Verify() bool {
	hash, err := e.computeHash()
	return err == nil && hash == e.EntryHash
}

func (e *Entry) computeHash() (string, error) {
	payload := struct {
		ID           uuid.UUID              `json:"id"`
		TenantID     uuid.UUID              `json:"tenant_id"`
		Actor        string                 `json:"actor"`
		Action       Action                 `json:"action"`
		ClaimID      uuid.UUID              `json:"claim_id"`
		Details      map[string]interface{} `json:"details,omitempty"`
		Timestamp    int64                  `json:"timestamp"`
		PreviousHash string                 `json:"previous_hash"`
	}{
		ID:           e.ID,
		TenantID:     e.TenantID,
		Actor:        e.Actor,
		Action:       e.Action,
		ClaimID:      e.ClaimID,
		Details:      e.Details,
		Timestamp:    e.Timestamp.UnixNano(),
		PreviousHash: e.PreviousHash,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal audit entry: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChain checks each entry's hash and its link to the predecessor. It
// returns the index of the first broken entry, or -1 for an intact chain.
func VerifyChain(entries []*Entry) int {
	prev := ""
	for i, e := range entries {
		if e.PreviousHash != prev || !e.Verify() {
			return i
		}
		prev = e.EntryHash
	}
	return -1
}
