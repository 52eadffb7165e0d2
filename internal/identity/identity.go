// Package identity stores the people that can be enrolled and recognized,
// along with their trusted location, the campus boundary and the per-person
// enrollment bookkeeping.
package identity

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"facesense/internal/geo"
)

// Role distinguishes students from staff.
type Role string

const (
	RoleStudent Role = "student"
	RoleStaff   Role = "staff"
)

// ErrInvalidRole is returned when creating an identity with an unknown role.
var ErrInvalidRole = errors.New("role must be student or staff")

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleStudent || r == RoleStaff }

// Identity is a registered student or staff member.
type Identity struct {
	ID        int64     `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Role      Role      `json:"role"`
	Email     *string   `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DisplayName is "first last", or the numeric id when both are empty.
func (i Identity) DisplayName() string {
	name := strings.TrimSpace(i.FirstName + " " + i.LastName)
	if name == "" {
		return strconv.FormatInt(i.ID, 10)
	}
	return name
}

// Location is the single trusted place of an identity.
type Location struct {
	geo.Point
	Accuracy     *float64  `json:"accuracy,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Campus is the authorized-area circle.
type Campus struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Center       geo.Point `json:"center"`
	RadiusMeters float64   `json:"radius_meters"`
	CreatedAt    time.Time `json:"created_at"`
}

// RegistryEntry summarizes the enrollment state of one identity.
type RegistryEntry struct {
	IdentityID   int64     `json:"user_id"`
	Name         string    `json:"name"`
	Email        *string   `json:"email,omitempty"`
	SamplePath   string    `json:"face_encoding_path"`
	SamplesCount int       `json:"samples_count"`
	RegisteredAt time.Time `json:"registered_at"`
	Location     *Location `json:"location,omitempty"`
}

// Store is the persistence contract shared by the Postgres repository and the
// in-memory implementation. Lookups return (nil, nil) when nothing matches.
type Store interface {
	CreateIdentity(ctx context.Context, in Identity) (Identity, error)
	ListIdentities(ctx context.Context) ([]Identity, error)
	FindIdentity(ctx context.Context, id int64) (*Identity, error)

	RegisteredLocation(ctx context.Context, id int64) (*Location, error)
	// SaveRegisteredLocation inserts the location only when none exists and
	// reports whether it was written.
	SaveRegisteredLocation(ctx context.Context, id int64, loc Location) (bool, error)

	ActiveCampus(ctx context.Context) (*Campus, error)
	// SetCampus deactivates every boundary and makes c the only active one.
	SetCampus(ctx context.Context, c Campus) (Campus, error)

	UpsertFaceRegistry(ctx context.Context, id int64, samplePath string, count int, at time.Time) error
	ListFaceRegistry(ctx context.Context) ([]RegistryEntry, error)
	FaceRegistryEntry(ctx context.Context, id int64) (*RegistryEntry, error)
}
