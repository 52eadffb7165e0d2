// Package attendance tracks the daily in/out record of every identity.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Intent is what the person wants to mark.
type Intent string

const (
	IntentIn  Intent = "in"
	IntentOut Intent = "out"
)

// ErrInvalidIntent is returned for anything other than in or out.
var ErrInvalidIntent = errors.New("type must be in or out")

// ParseIntent accepts "in" and "out", defaulting empty to in.
func ParseIntent(s string) (Intent, error) {
	switch Intent(s) {
	case "", IntentIn:
		return IntentIn, nil
	case IntentOut:
		return IntentOut, nil
	}
	return "", ErrInvalidIntent
}

// Status of a day's record.
type Status string

const (
	StatusPartial Status = "partial"
	StatusPresent Status = "present"
)

// Record is one identity's attendance for one calendar day.
type Record struct {
	ID         string     `json:"id"`
	IdentityID int64      `json:"user_id"`
	Name       string     `json:"name,omitempty"`
	Date       time.Time  `json:"-"`
	InTime     *time.Time `json:"in_time,omitempty"`
	OutTime    *time.Time `json:"out_time,omitempty"`
	Status     Status     `json:"status"`
	Latitude   *float64   `json:"latitude,omitempty"`
	Longitude  *float64   `json:"longitude,omitempty"`
	OnCampus   bool       `json:"on_campus"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Day is the record date as YYYY-MM-DD.
func (r Record) Day() string { return r.Date.Format(DateLayout) }

// DateLayout is the wire format of attendance dates.
const DateLayout = "2006-01-02"

// DayStats counts records of one date.
type DayStats struct {
	Date    string `json:"date"`
	Present int    `json:"present"`
	Partial int    `json:"partial"`
}

// Store persists records. Get returns (nil, nil) when there is none. The
// Set methods are conditional and report whether they changed a row: SetIn
// only fills an empty in_time, SetOut only fills an empty out_time after
// in_time. CreateIn reports false when the day already has a record.
type Store interface {
	Get(ctx context.Context, identityID int64, date time.Time) (*Record, error)
	CreateIn(ctx context.Context, rec Record) (bool, error)
	SetIn(ctx context.Context, identityID int64, date, at time.Time, lat, lon *float64, onCampus bool) (bool, error)
	SetOut(ctx context.Context, identityID int64, date, at time.Time) (bool, error)
	List(ctx context.Context, date time.Time) ([]Record, error)
	Stats(ctx context.Context, start, end time.Time) ([]DayStats, error)
}

// dateOf truncates t to its calendar day in loc, expressed as UTC midnight so
// it compares equal across stores.
func dateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	return d, nil
}
