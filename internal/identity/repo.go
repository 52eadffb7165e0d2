package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var _ Store = (*Repository)(nil)

// Repository persists identities and their trust data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateIdentity inserts a new identity and returns it with its assigned id.
func (r *Repository) CreateIdentity(ctx context.Context, in Identity) (Identity, error) {
	if !in.Role.Valid() {
		return Identity{}, ErrInvalidRole
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO identities (first_name, last_name, role, email)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, in.FirstName, in.LastName, in.Role, in.Email)
	if err := row.Scan(&in.ID, &in.CreatedAt); err != nil {
		return Identity{}, err
	}
	return in, nil
}

// ListIdentities returns all identities ordered by id.
func (r *Repository) ListIdentities(ctx context.Context) ([]Identity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, first_name, last_name, role, email, created_at
		FROM identities
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		var i Identity
		if err := rows.Scan(&i.ID, &i.FirstName, &i.LastName, &i.Role, &i.Email, &i.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// FindIdentity returns a single identity by id.
func (r *Repository) FindIdentity(ctx context.Context, id int64) (*Identity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, role, email, created_at
		FROM identities WHERE id = $1
	`, id)
	var i Identity
	if err := row.Scan(&i.ID, &i.FirstName, &i.LastName, &i.Role, &i.Email, &i.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &i, nil
}

// RegisteredLocation returns the trusted location of an identity.
func (r *Repository) RegisteredLocation(ctx context.Context, id int64) (*Location, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT latitude, longitude, accuracy, registered_at
		FROM user_locations WHERE user_id = $1
	`, id)
	var loc Location
	if err := row.Scan(&loc.Lat, &loc.Lon, &loc.Accuracy, &loc.RegisteredAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &loc, nil
}

// SaveRegisteredLocation writes the first location of an identity. Later calls
// leave the stored row untouched.
func (r *Repository) SaveRegisteredLocation(ctx context.Context, id int64, loc Location) (bool, error) {
	if loc.RegisteredAt.IsZero() {
		loc.RegisteredAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO user_locations (user_id, latitude, longitude, accuracy, registered_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO NOTHING
	`, id, loc.Lat, loc.Lon, loc.Accuracy, loc.RegisteredAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ActiveCampus returns the active campus boundary, if any.
func (r *Repository) ActiveCampus(ctx context.Context) (*Campus, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, center_lat, center_lon, radius_meters, created_at
		FROM campus_boundaries WHERE is_active
		LIMIT 1
	`)
	var c Campus
	if err := row.Scan(&c.ID, &c.Name, &c.Center.Lat, &c.Center.Lon, &c.RadiusMeters, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// SetCampus replaces the active boundary in a single transaction.
func (r *Repository) SetCampus(ctx context.Context, c Campus) (Campus, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Campus{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE campus_boundaries SET is_active = FALSE WHERE is_active`); err != nil {
		return Campus{}, fmt.Errorf("deactivate campus: %w", err)
	}
	row := tx.QueryRowContext(ctx, `
		INSERT INTO campus_boundaries (name, center_lat, center_lon, radius_meters, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
		RETURNING id, created_at
	`, c.Name, c.Center.Lat, c.Center.Lon, c.RadiusMeters)
	if err := row.Scan(&c.ID, &c.CreatedAt); err != nil {
		return Campus{}, fmt.Errorf("insert campus: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Campus{}, err
	}
	return c, nil
}

// UpsertFaceRegistry records the sample count and last enrollment time.
func (r *Repository) UpsertFaceRegistry(ctx context.Context, id int64, samplePath string, count int, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO face_registry (user_id, face_encoding_path, samples_count, registered_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			face_encoding_path = EXCLUDED.face_encoding_path,
			samples_count = GREATEST(face_registry.samples_count, EXCLUDED.samples_count),
			registered_at = EXCLUDED.registered_at
	`, id, samplePath, count, at)
	return err
}

const registrySelect = `
	SELECT fr.user_id, i.first_name, i.last_name, i.email,
		fr.face_encoding_path, fr.samples_count, fr.registered_at,
		ul.latitude, ul.longitude, ul.accuracy, ul.registered_at
	FROM face_registry fr
	JOIN identities i ON i.id = fr.user_id
	LEFT JOIN user_locations ul ON ul.user_id = fr.user_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistryEntry(row rowScanner) (RegistryEntry, error) {
	var (
		e            RegistryEntry
		ident        Identity
		lat, lon     sql.NullFloat64
		accuracy     *float64
		locationTime sql.NullTime
	)
	if err := row.Scan(&e.IdentityID, &ident.FirstName, &ident.LastName, &e.Email,
		&e.SamplePath, &e.SamplesCount, &e.RegisteredAt,
		&lat, &lon, &accuracy, &locationTime); err != nil {
		return RegistryEntry{}, err
	}
	ident.ID = e.IdentityID
	e.Name = ident.DisplayName()
	if lat.Valid && lon.Valid {
		e.Location = &Location{Accuracy: accuracy, RegisteredAt: locationTime.Time}
		e.Location.Lat, e.Location.Lon = lat.Float64, lon.Float64
	}
	return e, nil
}

// ListFaceRegistry returns every enrolled identity with its location.
func (r *Repository) ListFaceRegistry(ctx context.Context) ([]RegistryEntry, error) {
	rows, err := r.db.QueryContext(ctx, registrySelect+`
		ORDER BY fr.registered_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RegistryEntry
	for rows.Next() {
		e, err := scanRegistryEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FaceRegistryEntry returns the enrollment bookkeeping of one identity, or
// nil when it has never been enrolled.
func (r *Repository) FaceRegistryEntry(ctx context.Context, id int64) (*RegistryEntry, error) {
	e, err := scanRegistryEntry(r.db.QueryRowContext(ctx, registrySelect+`
		WHERE fr.user_id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}
