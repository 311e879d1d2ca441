package database

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/errors"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/provider"
)

const providerColumns = `id, tenant_id, npi, name, type, specialty, address, phone,
	latitude, longitude, active, created_at`

// DirectoryRepository reads the provider and member directories.
type DirectoryRepository struct {
	db *Pool
}

func NewDirectoryRepository(db *Pool) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

func (r *DirectoryRepository) GetProvider(ctx context.Context, id uuid.UUID) (*provider.Provider, error) {
	p, err := scanProvider(r.db.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1`, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NewNotFoundError("provider").WithCause(ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get provider: %w", err)
	}
	return p, nil
}

// ListActiveProviders returns the tenant's active providers ordered by NPI.
func (r *DirectoryRepository) ListActiveProviders(ctx context.Context, tenantID uuid.UUID) ([]*provider.Provider, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+providerColumns+`
		FROM providers
		WHERE tenant_id = $1 AND active
		ORDER BY npi`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query providers: %w", err)
	}
	defer rows.Close()

	var out []*provider.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListTenants returns every tenant that owns at least one provider.
func (r *DirectoryRepository) ListTenants(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT tenant_id FROM providers ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GetPatients returns the known patients among ids; unknown ids are omitted.
func (r *DirectoryRepository) GetPatients(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*provider.Patient, error) {
	out := make(map[uuid.UUID]*provider.Patient, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, tenant_id, date_of_birth, address, phone, latitude, longitude
		FROM patients
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query patients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p        provider.Patient
			dob      *time.Time
			lat, lon *float64
		)
		if err := rows.Scan(&p.ID, &p.TenantID, &dob, &p.Address, &p.Phone, &lat, &lon); err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		if dob != nil {
			d := dob.UTC()
			p.DateOfBirth = &d
		}
		p.Location = geoPoint(lat, lon)
		out[p.ID] = &p
	}
	return out, rows.Err()
}

// SaveProvider inserts or replaces a directory record.
func (r *DirectoryRepository) SaveProvider(ctx context.Context, p *provider.Provider) error {
	lat, lon := coordinates(p.Location)
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO providers (`+providerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id, npi = EXCLUDED.npi, name = EXCLUDED.name,
			type = EXCLUDED.type, specialty = EXCLUDED.specialty, address = EXCLUDED.address,
			phone = EXCLUDED.phone, latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude,
			active = EXCLUDED.active`,
		p.ID, p.TenantID, p.NPI, p.Name, string(p.Type), p.Specialty, p.Address, p.Phone,
		lat, lon, p.Active, createdAt,
	)
	if err != nil {
		return fmt.Errorf("save provider: %w", err)
	}
	return nil
}

// SavePatient inserts or replaces a member record.
func (r *DirectoryRepository) SavePatient(ctx context.Context, p *provider.Patient) error {
	lat, lon := coordinates(p.Location)
	_, err := r.db.Exec(ctx, `
		INSERT INTO patients (id, tenant_id, date_of_birth, address, phone, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id, date_of_birth = EXCLUDED.date_of_birth,
			address = EXCLUDED.address, phone = EXCLUDED.phone,
			latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude`,
		p.ID, p.TenantID, p.DateOfBirth, p.Address, p.Phone, lat, lon,
	)
	if err != nil {
		return fmt.Errorf("save patient: %w", err)
	}
	return nil
}

func scanProvider(row pgx.Row) (*provider.Provider, error) {
	var (
		p        provider.Provider
		typ      string
		lat, lon *float64
	)
	if err := row.Scan(&p.ID, &p.TenantID, &p.NPI, &p.Name, &typ, &p.Specialty, &p.Address, &p.Phone,
		&lat, &lon, &p.Active, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Type = provider.ProviderType(typ)
	p.Location = geoPoint(lat, lon)
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func geoPoint(lat, lon *float64) *provider.GeoPoint {
	if lat == nil || lon == nil {
		return nil
	}
	return &provider.GeoPoint{Latitude: *lat, Longitude: *lon}
}

func coordinates(g *provider.GeoPoint) (*float64, *float64) {
	if g == nil {
		return nil, nil
	}
	lat, lon := g.Latitude, g.Longitude
	return &lat, &lon
}
