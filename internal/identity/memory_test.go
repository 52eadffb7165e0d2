package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"facesense/internal/geo"
)

func TestDisplayName(t *testing.T) {
	tests := []struct {
		in   Identity
		want string
	}{
		{Identity{ID: 1, FirstName: "Asha", LastName: "Rao"}, "Asha Rao"},
		{Identity{ID: 2, FirstName: "Asha"}, "Asha"},
		{Identity{ID: 3, LastName: " Rao "}, "Rao"},
		{Identity{ID: 42}, "42"},
	}
	for _, tt := range tests {
		if got := tt.in.DisplayName(); got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, got)
		}
	}
}

func TestMemory_CreateIdentityRejectsUnknownRole(t *testing.T) {
	m := NewMemory()
	_, err := m.CreateIdentity(context.Background(), Identity{FirstName: "X", Role: "visitor"})
	if !errors.Is(err, ErrInvalidRole) {
		t.Errorf("expected ErrInvalidRole, got %v", err)
	}
}

func TestMemory_FindIdentity(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	created, err := m.CreateIdentity(ctx, Identity{FirstName: "Asha", Role: RoleStudent})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := m.FindIdentity(ctx, created.ID)
	if err != nil || got == nil {
		t.Fatalf("expected identity, got %v, %v", got, err)
	}
	if got.FirstName != "Asha" {
		t.Errorf("expected Asha, got %q", got.FirstName)
	}

	missing, err := m.FindIdentity(ctx, 999)
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for unknown id, got %v, %v", missing, err)
	}
}

func TestMemory_RegisteredLocationIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	first := Location{Point: geo.Point{Lat: 12.9, Lon: 77.5}}
	saved, err := m.SaveRegisteredLocation(ctx, 42, first)
	if err != nil || !saved {
		t.Fatalf("expected first save to succeed, got %v, %v", saved, err)
	}

	saved, err = m.SaveRegisteredLocation(ctx, 42, Location{Point: geo.Point{Lat: 40, Lon: -70}})
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if saved {
		t.Error("expected second save to be ignored")
	}

	loc, _ := m.RegisteredLocation(ctx, 42)
	if loc == nil || loc.Lat != 12.9 || loc.Lon != 77.5 {
		t.Errorf("expected original location, got %+v", loc)
	}
}

func TestMemory_SetCampusKeepsSingleActive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if c, _ := m.ActiveCampus(ctx); c != nil {
		t.Fatalf("expected no campus, got %+v", c)
	}

	if _, err := m.SetCampus(ctx, Campus{Name: "Old", Center: geo.Point{Lat: 1, Lon: 1}, RadiusMeters: 100}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.SetCampus(ctx, Campus{Name: "New", Center: geo.Point{Lat: 2, Lon: 2}, RadiusMeters: 300}); err != nil {
		t.Fatal(err)
	}

	c, _ := m.ActiveCampus(ctx)
	if c == nil || c.Name != "New" || c.RadiusMeters != 300 {
		t.Errorf("expected New campus to be active, got %+v", c)
	}
}

func TestMemory_FaceRegistry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	ident, _ := m.CreateIdentity(ctx, Identity{FirstName: "Ravi", LastName: "K", Role: RoleStaff})
	_, _ = m.SaveRegisteredLocation(ctx, ident.ID, Location{Point: geo.Point{Lat: 1, Lon: 2}})

	now := time.Now().UTC()
	if err := m.UpsertFaceRegistry(ctx, ident.ID, "dataset/1", 1, now); err != nil {
		t.Fatal(err)
	}
	if err := m.UpsertFaceRegistry(ctx, ident.ID, "dataset/1", 2, now.Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	entries, _ := m.ListFaceRegistry(ctx)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.SamplesCount != 2 || e.Name != "Ravi K" || e.Location == nil {
		t.Errorf("unexpected entry %+v", e)
	}
	one, err := m.FaceRegistryEntry(ctx, ident.ID)
	if err != nil || one == nil || one.SamplesCount != 2 || one.Location == nil {
		t.Errorf("unexpected single entry %+v %v", one, err)
	}
	if none, err := m.FaceRegistryEntry(ctx, ident.ID+1); err != nil || none != nil {
		t.Errorf("expected no entry for an unenrolled id, got %+v %v", none, err)
	}
}
