package attendance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"facesense/internal/keylock"
	"facesense/internal/metrics"
)

// ErrMustMarkInFirst is returned when marking out on a day without an in.
var ErrMustMarkInFirst = errors.New("must mark in first")

const clockLayout = "15:04:05"

// Mark is one request to advance a day's record.
type Mark struct {
	IdentityID int64
	Name       string
	Intent     Intent
	Latitude   *float64
	Longitude  *float64
	OnCampus   bool
}

// Outcome describes what Mark did. Repeated marks are not errors: they come
// back with Changed false and an "Already marked" message.
type Outcome struct {
	Message string  `json:"message"`
	Changed bool    `json:"marked"`
	Record  *Record `json:"record,omitempty"`
}

// Service advances attendance records. Marks for the same identity and day
// are serialized in-process; the store's conditional updates keep them
// consistent across processes.
type Service struct {
	store Store
	loc   *time.Location
	locks *keylock.Map
	now   func() time.Time
}

// NewService creates a service that cuts days in loc.
func NewService(store Store, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: store, loc: loc, locks: keylock.New(), now: time.Now}
}

// Today is the current calendar day in the service location.
func (s *Service) Today() time.Time { return dateOf(s.now(), s.loc) }

// Mark applies m at the current time.
func (s *Service) Mark(ctx context.Context, m Mark) (Outcome, error) {
	return s.MarkAt(ctx, m, s.now())
}

// MarkAt applies m as if it happened at at.
func (s *Service) MarkAt(ctx context.Context, m Mark, at time.Time) (Outcome, error) {
	out, err := s.mark(ctx, m, at)
	intent, result := string(m.Intent), "marked"
	switch {
	case errors.Is(err, ErrInvalidIntent):
		intent, result = "invalid", "error"
	case errors.Is(err, ErrMustMarkInFirst):
		result = "must_mark_in_first"
	case err != nil:
		result = "error"
	case !out.Changed:
		result = "already"
	}
	metrics.AttendanceMarks.WithLabelValues(intent, result).Inc()
	return out, err
}

func (s *Service) mark(ctx context.Context, m Mark, at time.Time) (Outcome, error) {
	if m.Intent != IntentIn && m.Intent != IntentOut {
		return Outcome{}, ErrInvalidIntent
	}
	if m.Name == "" {
		m.Name = strconv.FormatInt(m.IdentityID, 10)
	}
	at = at.UTC()
	date := dateOf(at, s.loc)

	unlock := s.locks.Lock(strconv.FormatInt(m.IdentityID, 10) + "|" + date.Format(DateLayout))
	defer unlock()

	rec, err := s.store.Get(ctx, m.IdentityID, date)
	if err != nil {
		return Outcome{}, fmt.Errorf("get attendance: %w", err)
	}

	if rec == nil {
		if m.Intent == IntentOut {
			return Outcome{}, ErrMustMarkInFirst
		}
		created := Record{
			ID:         uuid.NewString(),
			IdentityID: m.IdentityID,
			Date:       date,
			InTime:     &at,
			Status:     StatusPartial,
			Latitude:   m.Latitude,
			Longitude:  m.Longitude,
			OnCampus:   m.OnCampus,
			CreatedAt:  at,
		}
		ok, err := s.store.CreateIn(ctx, created)
		if err != nil {
			return Outcome{}, fmt.Errorf("create attendance: %w", err)
		}
		if ok {
			return s.marked(m, at, &created), nil
		}
		// another process created the day first
		if rec, err = s.store.Get(ctx, m.IdentityID, date); err != nil || rec == nil {
			return Outcome{}, fmt.Errorf("reload attendance: %w", errOrMissing(err))
		}
	}

	switch m.Intent {
	case IntentIn:
		if rec.InTime != nil {
			return s.already(IntentIn, *rec.InTime, rec), nil
		}
		ok, err := s.store.SetIn(ctx, m.IdentityID, date, at, m.Latitude, m.Longitude, m.OnCampus)
		if err != nil {
			return Outcome{}, fmt.Errorf("set in time: %w", err)
		}
		if !ok {
			return s.reloadAlready(ctx, m, date)
		}
		rec.InTime, rec.Status = &at, StatusPartial
		rec.Latitude, rec.Longitude, rec.OnCampus = m.Latitude, m.Longitude, m.OnCampus
		return s.marked(m, at, rec), nil

	default:
		if rec.OutTime != nil {
			return s.already(IntentOut, *rec.OutTime, rec), nil
		}
		if rec.InTime == nil {
			return Outcome{}, ErrMustMarkInFirst
		}
		ok, err := s.store.SetOut(ctx, m.IdentityID, date, at)
		if err != nil {
			return Outcome{}, fmt.Errorf("set out time: %w", err)
		}
		if !ok {
			return s.reloadAlready(ctx, m, date)
		}
		rec.OutTime, rec.Status = &at, StatusPresent
		return s.marked(m, at, rec), nil
	}
}

func (s *Service) reloadAlready(ctx context.Context, m Mark, date time.Time) (Outcome, error) {
	rec, err := s.store.Get(ctx, m.IdentityID, date)
	if err != nil || rec == nil {
		return Outcome{}, fmt.Errorf("reload attendance: %w", errOrMissing(err))
	}
	if m.Intent == IntentIn && rec.InTime != nil {
		return s.already(IntentIn, *rec.InTime, rec), nil
	}
	if m.Intent == IntentOut && rec.OutTime != nil {
		return s.already(IntentOut, *rec.OutTime, rec), nil
	}
	return Outcome{}, ErrMustMarkInFirst
}

func (s *Service) marked(m Mark, at time.Time, rec *Record) Outcome {
	rec.Name = m.Name
	return Outcome{
		Message: fmt.Sprintf("%s marked %s at %s", m.Name, strings.ToUpper(string(m.Intent)), at.In(s.loc).Format(clockLayout)),
		Changed: true,
		Record:  rec,
	}
}

func (s *Service) already(intent Intent, at time.Time, rec *Record) Outcome {
	return Outcome{
		Message: fmt.Sprintf("Already marked %s at %s", strings.ToUpper(string(intent)), at.In(s.loc).Format(clockLayout)),
		Record:  rec,
	}
}

// List returns the records of one day.
func (s *Service) List(ctx context.Context, date time.Time) ([]Record, error) {
	return s.store.List(ctx, date)
}

// Stats counts present and partial records per day in [start, end].
func (s *Service) Stats(ctx context.Context, start, end time.Time) ([]DayStats, error) {
	if end.Before(start) {
		start, end = end, start
	}
	return s.store.Stats(ctx, start, end)
}

func errOrMissing(err error) error {
	if err != nil {
		return err
	}
	return errors.New("record vanished")
}
