package attendance

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

var _ Store = (*Memory)(nil)

type dayKey struct {
	id   int64
	date string
}

// Memory is an in-process Store for dev and tests. Names resolves display
// names for List; it may be nil.
type Memory struct {
	mu      sync.Mutex
	records map[dayKey]Record
	Names   func(id int64) string
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{records: make(map[dayKey]Record)}
}

func key(id int64, date time.Time) dayKey {
	return dayKey{id: id, date: date.Format(DateLayout)}
}

func (m *Memory) Get(_ context.Context, identityID int64, date time.Time) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key(identityID, date)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) CreateIn(_ context.Context, rec Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(rec.IdentityID, rec.Date)
	if _, ok := m.records[k]; ok {
		return false, nil
	}
	m.records[k] = rec
	return true, nil
}

func (m *Memory) SetIn(_ context.Context, identityID int64, date, at time.Time, lat, lon *float64, onCampus bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(identityID, date)
	rec, ok := m.records[k]
	if !ok || rec.InTime != nil {
		return false, nil
	}
	rec.InTime, rec.Status = &at, StatusPartial
	rec.Latitude, rec.Longitude, rec.OnCampus = lat, lon, onCampus
	m.records[k] = rec
	return true, nil
}

func (m *Memory) SetOut(_ context.Context, identityID int64, date, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(identityID, date)
	rec, ok := m.records[k]
	if !ok || rec.InTime == nil || rec.OutTime != nil {
		return false, nil
	}
	rec.OutTime, rec.Status = &at, StatusPresent
	m.records[k] = rec
	return true, nil
}

func (m *Memory) List(_ context.Context, date time.Time) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	day := date.Format(DateLayout)
	var out []Record
	for k, rec := range m.records {
		if k.date != day {
			continue
		}
		rec.Name = strconv.FormatInt(rec.IdentityID, 10)
		if m.Names != nil {
			rec.Name = m.Names(rec.IdentityID)
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out, nil
}

func (m *Memory) Stats(_ context.Context, start, end time.Time) ([]DayStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	from, to := start.Format(DateLayout), end.Format(DateLayout)
	byDay := map[string]*DayStats{}
	for k, rec := range m.records {
		if k.date < from || k.date > to {
			continue
		}
		s, ok := byDay[k.date]
		if !ok {
			s = &DayStats{Date: k.date}
			byDay[k.date] = s
		}
		switch rec.Status {
		case StatusPresent:
			s.Present++
		case StatusPartial:
			s.Partial++
		}
	}
	out := make([]DayStats, 0, len(byDay))
	for _, s := range byDay {
		out = append(out, *s)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Date < out[b].Date })
	return out, nil
}
