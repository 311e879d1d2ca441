//go:build integration

package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/audit"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/errors"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/provider"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/values"
	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/config"
	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/database"
	"github.com/davidleathers/claims-fraud-engine/internal/service/billingcode"
	"github.com/davidleathers/claims-fraud-engine/internal/service/fraud"
	"github.com/davidleathers/claims-fraud-engine/internal/testutil/containers"
)

func setupPool(t *testing.T) *database.Pool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	pg, err := containers.NewPostgresContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Close(context.Background()) })

	logger := zaptest.NewLogger(t)
	require.NoError(t, database.MigrateUp(pg.ConnectionString, logger))

	pool, err := database.NewPool(ctx, config.DatabaseConfig{URL: pg.ConnectionString, MaxConns: 5}, logger)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func newClaim(t *testing.T, tenant, providerID, patientID uuid.UUID, day time.Time) *claim.Claim {
	t.Helper()
	c, err := claim.NewClaim(claim.Submission{
		TenantID:    tenant,
		PatientID:   patientID,
		ProviderID:  providerID,
		ServiceDate: day,
		LineItems: []claim.LineItem{
			{ProcedureCode: "99214", Units: 1, UnitCost: values.MustUSD("125.50"), Modifiers: []string{"25"}},
			{ProcedureCode: "36415", Units: 2, UnitCost: values.MustUSD("10.00")},
		},
	})
	require.NoError(t, err)
	return c
}

func TestRepositories_Postgres(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	pool := setupPool(t)
	ctx := context.Background()

	claims := database.NewClaimRepository(pool)
	directory := database.NewDirectoryRepository(pool)
	auditLog := database.NewAuditRepository(pool)
	prices := database.NewPriceRepository(pool)

	tenant := uuid.New()
	dob := time.Date(1961, 4, 2, 0, 0, 0, 0, time.UTC)
	prov := &provider.Provider{
		ID: uuid.New(), TenantID: tenant, NPI: "1234567893", Name: "Lakeside Family Practice",
		Type: provider.TypePhysician, Specialty: "family medicine", Address: "12 Elm St",
		Phone: "555-0100", Location: &provider.GeoPoint{Latitude: 41.88, Longitude: -87.63}, Active: true,
	}
	patient := &provider.Patient{ID: uuid.New(), TenantID: tenant, DateOfBirth: &dob, Address: "9 Oak Ave", Phone: "555-0199"}
	require.NoError(t, directory.SaveProvider(ctx, prov))
	require.NoError(t, directory.SavePatient(ctx, patient))

	t.Run("directory", func(t *testing.T) {
		got, err := directory.GetProvider(ctx, prov.ID)
		require.NoError(t, err)
		assert.Equal(t, prov.Specialty, got.Specialty)
		require.NotNil(t, got.Location)
		assert.InDelta(t, 41.88, got.Location.Latitude, 1e-9)

		_, err = directory.GetProvider(ctx, uuid.New())
		assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

		active, err := directory.ListActiveProviders(ctx, tenant)
		require.NoError(t, err)
		assert.Len(t, active, 1)

		tenants, err := directory.ListTenants(ctx)
		require.NoError(t, err)
		assert.Contains(t, tenants, tenant)

		patients, err := directory.GetPatients(ctx, []uuid.UUID{patient.ID, uuid.New()})
		require.NoError(t, err)
		require.Len(t, patients, 1)
		assert.Equal(t, dob, *patients[patient.ID].DateOfBirth)
	})

	day := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)
	c := newClaim(t, tenant, prov.ID, patient.ID, day)

	t.Run("claim lifecycle", func(t *testing.T) {
		require.NoError(t, claims.Create(ctx, c))
		assert.ErrorIs(t, claims.Create(ctx, c), database.ErrDuplicateClaim)

		stored, err := claims.GetByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, claim.StatusPending, stored.Status)
		assert.True(t, c.BilledAmount.Equal(stored.BilledAmount))
		assert.Equal(t, c.LineItems[0].Modifiers, stored.LineItems[0].Modifiers)
		assert.Equal(t, day, stored.ServiceDate)

		alert := claim.NewFraudAlert(c.ID, claim.FraudTypeUpcoding, claim.RiskLevelHigh, 72, "consistent high-level coding",
			map[string]interface{}{"high_level_frequency": 0.9})
		quiet := claim.NewFraudAlert(c.ID, claim.FraudTypeUnbundling, claim.RiskLevelLow, 0, "", nil)
		require.NoError(t, c.Complete(64, claim.RiskLevelHigh, []claim.FraudType{claim.FraudTypeUpcoding}, false))
		require.NoError(t, claims.CompleteAnalysis(ctx, c, []*claim.FraudAlert{alert, quiet}))

		assert.ErrorIs(t, claims.CompleteAnalysis(ctx, c, nil), database.ErrInvalidTransition)

		missing := newClaim(t, tenant, prov.ID, patient.ID, day)
		require.NoError(t, missing.Complete(10, claim.RiskLevelLow, nil, true))
		assert.ErrorIs(t, claims.CompleteAnalysis(ctx, missing, nil), database.ErrNotFound)

		assert.ErrorIs(t, claims.Discard(ctx, c.ID), database.ErrInvalidTransition)
		assert.NoError(t, claims.Discard(ctx, uuid.New()))
		unscored := newClaim(t, tenant, prov.ID, patient.ID, day)
		require.NoError(t, claims.Create(ctx, unscored))
		require.NoError(t, claims.Discard(ctx, unscored.ID))
		_, err = claims.GetByID(ctx, unscored.ID)
		assert.ErrorIs(t, err, database.ErrNotFound)

		stored, err = claims.GetByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, claim.StatusFlaggedForFraud, stored.Status)
		assert.Equal(t, []claim.FraudType{claim.FraudTypeUpcoding}, stored.FraudTypes)

		alerts, err := claims.ListAlerts(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, alerts, 1)
		assert.Equal(t, claim.FraudTypeUpcoding, alerts[0].Type)
		assert.Equal(t, 0.9, alerts[0].Details["high_level_frequency"])
	})

	t.Run("queries", func(t *testing.T) {
		byProvider, err := claims.ListByProvider(ctx, prov.ID, day.AddDate(0, 0, -1))
		require.NoError(t, err)
		assert.Len(t, byProvider, 1)

		byPatient, err := claims.ListByPatient(ctx, patient.ID, day.AddDate(0, 0, 1))
		require.NoError(t, err)
		assert.Empty(t, byPatient)

		byTenant, err := claims.ListByTenant(ctx, tenant, day)
		require.NoError(t, err)
		assert.Len(t, byTenant, 1)

		dupes, err := claims.FindDuplicates(ctx, fraud.DuplicateCriteria{
			ExcludeClaimID: uuid.New(),
			ProviderID:     prov.ID,
			PatientID:      patient.ID,
			ServiceDate:    day,
			BilledAmount:   c.BilledAmount.Amount().String(),
			SubmittedFrom:  c.SubmittedAt.Add(-time.Hour),
			SubmittedTo:    c.SubmittedAt.Add(time.Hour),
		})
		require.NoError(t, err)
		require.Len(t, dupes, 1)
		assert.Equal(t, c.ID, dupes[0].ID)
	})

	t.Run("audit chain", func(t *testing.T) {
		for _, action := range []audit.Action{audit.ActionFlagRaised, audit.ActionInvestigationTriggered} {
			entry, err := audit.NewEntry(tenant, "api", action, c.ID, map[string]interface{}{"score": 64.0})
			require.NoError(t, err)
			require.NoError(t, auditLog.Append(ctx, entry))
		}

		trail, err := auditLog.AuditTrail(ctx, tenant)
		require.NoError(t, err)
		require.Len(t, trail, 2)
		assert.Equal(t, -1, audit.VerifyChain(trail))

		_, err = pool.Exec(ctx, `UPDATE audit_log SET actor = 'x'`)
		assert.Error(t, err)
	})

	t.Run("price ranges", func(t *testing.T) {
		ranges := map[string]billingcode.PriceRange{
			"99213": {Min: 70, Max: 140},
			"99214": {Min: 100, Max: 210.5},
		}
		require.NoError(t, prices.ReplacePriceRanges(ctx, "fee-schedule-2025.parquet", ranges))
		require.NoError(t, prices.ReplacePriceRanges(ctx, "fee-schedule-2025.parquet", ranges))

		got, err := prices.PriceRanges(ctx)
		require.NoError(t, err)
		assert.Equal(t, ranges, got)
	})
}
