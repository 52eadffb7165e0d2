package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var _ Store = (*Repository)(nil)

// Repository persists attendance data in Postgres. The (user_id, date) unique
// key and the conditional updates make every transition single-shot.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `a.id, a.user_id, a.date, a.in_time, a.out_time, a.status,
	a.latitude, a.longitude, a.on_campus, a.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, extra ...any) (Record, error) {
	var rec Record
	dest := []any{&rec.ID, &rec.IdentityID, &rec.Date, &rec.InTime, &rec.OutTime, &rec.Status,
		&rec.Latitude, &rec.Longitude, &rec.OnCampus, &rec.CreatedAt}
	err := row.Scan(append(dest, extra...)...)
	return rec, err
}

// Get returns the record of one identity and day.
func (r *Repository) Get(ctx context.Context, identityID int64, date time.Time) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance a
		WHERE a.user_id = $1 AND a.date = $2::date
	`, identityID, date.Format(DateLayout))
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// CreateIn inserts the first record of a day unless one exists.
func (r *Repository) CreateIn(ctx context.Context, rec Record) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance (id, user_id, date, in_time, status, latitude, longitude, on_campus, created_at)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, date) DO NOTHING
	`, rec.ID, rec.IdentityID, rec.Date.Format(DateLayout), rec.InTime, rec.Status,
		rec.Latitude, rec.Longitude, rec.OnCampus, rec.CreatedAt)
	return affected(res, err)
}

// SetIn fills in_time when it is still empty.
func (r *Repository) SetIn(ctx context.Context, identityID int64, date, at time.Time, lat, lon *float64, onCampus bool) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance
		SET in_time = $3, status = 'partial', latitude = $4, longitude = $5, on_campus = $6
		WHERE user_id = $1 AND date = $2::date AND in_time IS NULL
	`, identityID, date.Format(DateLayout), at, lat, lon, onCampus)
	return affected(res, err)
}

// SetOut fills out_time when in_time is set and out_time is still empty.
func (r *Repository) SetOut(ctx context.Context, identityID int64, date, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance
		SET out_time = $3, status = 'present'
		WHERE user_id = $1 AND date = $2::date AND in_time IS NOT NULL AND out_time IS NULL
	`, identityID, date.Format(DateLayout), at)
	return affected(res, err)
}

// List returns the records of one day with display names.
func (r *Repository) List(ctx context.Context, date time.Time) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`,
			COALESCE(NULLIF(TRIM(i.first_name || ' ' || i.last_name), ''), a.user_id::text) AS name
		FROM attendance a
		JOIN identities i ON i.id = a.user_id
		WHERE a.date = $1::date
		ORDER BY name
	`, date.Format(DateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var name string
		rec, err := scanRecord(rows, &name)
		if err != nil {
			return nil, err
		}
		rec.Name = name
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stats counts records per status for each day in [start, end].
func (r *Repository) Stats(ctx context.Context, start, end time.Time) ([]DayStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT date,
			COUNT(*) FILTER (WHERE status = 'present'),
			COUNT(*) FILTER (WHERE status = 'partial')
		FROM attendance
		WHERE date BETWEEN $1::date AND $2::date
		GROUP BY date
		ORDER BY date
	`, start.Format(DateLayout), end.Format(DateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DayStats
	for rows.Next() {
		var (
			day time.Time
			s   DayStats
		)
		if err := rows.Scan(&day, &s.Present, &s.Partial); err != nil {
			return nil, err
		}
		s.Date = day.Format(DateLayout)
		out = append(out, s)
	}
	return out, rows.Err()
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
