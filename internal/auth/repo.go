package auth

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"
)

// ErrDeviceIDRequired is returned when registering a blank device.
var ErrDeviceIDRequired = errors.New("device id required")

// DeviceStore keeps registered kiosks and their refresh tokens.
type DeviceStore interface {
	UpsertDevice(ctx context.Context, deviceID string) error
	SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error
	RevokeRefreshToken(ctx context.Context, token string) error
}

// Repository persists devices in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UpsertDevice ensures a device record exists.
func (r *Repository) UpsertDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return ErrDeviceIDRequired
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id)
		VALUES ($1)
		ON CONFLICT (device_id) DO NOTHING
	`, deviceID)
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (device_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, deviceID, token, expiresAt)
	return err
}

// RevokeRefreshToken marks a token revoked.
func (r *Repository) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1`, token)
	return err
}

// Memory keeps devices in process.
type Memory struct {
	mu      sync.Mutex
	devices map[string]time.Time
	tokens  map[string]bool
}

// NewMemory creates an empty device store.
func NewMemory() *Memory {
	return &Memory{devices: make(map[string]time.Time), tokens: make(map[string]bool)}
}

func (m *Memory) UpsertDevice(_ context.Context, deviceID string) error {
	if deviceID == "" {
		return ErrDeviceIDRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[deviceID]; !ok {
		m.devices[deviceID] = time.Now().UTC()
	}
	return nil
}

func (m *Memory) SaveRefreshToken(_ context.Context, _ string, token string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = false
	return nil
}

func (m *Memory) RevokeRefreshToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[token]; ok {
		m.tokens[token] = true
	}
	return nil
}
