package identity

import (
	"context"
	"sort"
	"sync"
	"time"
)

var _ Store = (*Memory)(nil)

// Memory is a mutex-guarded Store for dev and tests.
type Memory struct {
	mu         sync.Mutex
	nextID     int64
	nextCampus int64
	identities map[int64]Identity
	locations  map[int64]Location
	registry   map[int64]RegistryEntry
	campuses   []Campus
	active     int
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		identities: make(map[int64]Identity),
		locations:  make(map[int64]Location),
		registry:   make(map[int64]RegistryEntry),
		active:     -1,
	}
}

func (m *Memory) CreateIdentity(_ context.Context, in Identity) (Identity, error) {
	if !in.Role.Valid() {
		return Identity{}, ErrInvalidRole
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if in.ID == 0 {
		m.nextID++
		in.ID = m.nextID
	} else if in.ID > m.nextID {
		m.nextID = in.ID
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	m.identities[in.ID] = in
	return in, nil
}

func (m *Memory) ListIdentities(_ context.Context) ([]Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Identity, 0, len(m.identities))
	for _, i := range m.identities {
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (m *Memory) FindIdentity(_ context.Context, id int64) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.identities[id]
	if !ok {
		return nil, nil
	}
	return &i, nil
}

func (m *Memory) RegisteredLocation(_ context.Context, id int64) (*Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc, ok := m.locations[id]
	if !ok {
		return nil, nil
	}
	return &loc, nil
}

func (m *Memory) SaveRegisteredLocation(_ context.Context, id int64, loc Location) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.locations[id]; ok {
		return false, nil
	}
	if loc.RegisteredAt.IsZero() {
		loc.RegisteredAt = time.Now().UTC()
	}
	m.locations[id] = loc
	return true, nil
}

func (m *Memory) ActiveCampus(_ context.Context) (*Campus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active < 0 {
		return nil, nil
	}
	c := m.campuses[m.active]
	return &c, nil
}

func (m *Memory) SetCampus(_ context.Context, c Campus) (Campus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCampus++
	c.ID = m.nextCampus
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	m.campuses = append(m.campuses, c)
	m.active = len(m.campuses) - 1
	return c, nil
}

func (m *Memory) UpsertFaceRegistry(_ context.Context, id int64, samplePath string, count int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.registry[id]
	e.IdentityID = id
	e.SamplePath = samplePath
	if count > e.SamplesCount {
		e.SamplesCount = count
	}
	e.RegisteredAt = at
	m.registry[id] = e
	return nil
}

func (m *Memory) ListFaceRegistry(_ context.Context) ([]RegistryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RegistryEntry, 0, len(m.registry))
	for id := range m.registry {
		out = append(out, m.entry(id))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].RegisteredAt.After(out[b].RegisteredAt) })
	return out, nil
}

func (m *Memory) FaceRegistryEntry(_ context.Context, id int64) (*RegistryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.registry[id]; !ok {
		return nil, nil
	}
	e := m.entry(id)
	return &e, nil
}

// entry joins a registry row with its identity and location. m.mu must be held.
func (m *Memory) entry(id int64) RegistryEntry {
	e := m.registry[id]
	if ident, ok := m.identities[id]; ok {
		e.Name = ident.DisplayName()
		e.Email = ident.Email
	}
	if loc, ok := m.locations[id]; ok {
		l := loc
		e.Location = &l
	}
	return e
}
