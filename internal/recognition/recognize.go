package recognition

import (
	"context"
	"errors"
	"fmt"
	"math"

	"facesense/internal/geo"
	"facesense/internal/identity"
	"facesense/internal/metrics"
)

// Reason explains a negative recognition.
type Reason string

const (
	ReasonNoFace        Reason = "no_face"
	ReasonUnknown       Reason = "unknown"
	ReasonLowConfidence Reason = "low_confidence"
)

// Result is the outcome of one recognition.
type Result struct {
	Recognized bool    `json:"recognized"`
	IdentityID int64   `json:"user_id,omitempty"`
	Name       string  `json:"name,omitempty"`
	Confidence float64 `json:"confidence"`
	LocationOK bool    `json:"location_ok"`
	Reason     Reason  `json:"reason,omitempty"`
	// Message is a short human text for kiosk displays.
	Message string `json:"message,omitempty"`
	// DistanceMeters is the distance to the registered location, when checked.
	DistanceMeters *float64 `json:"distance_meters,omitempty"`
	// OnCampus is set when a campus boundary was checked.
	OnCampus *bool `json:"on_campus,omitempty"`
}

// Confidence maps a classifier distance to the displayed 0..100 figure.
func Confidence(distance float64) float64 {
	return math.Max(0, 100-distance)
}

// Recognize identifies the person in raw and, when loc is given, checks it
// against their registered location and the active campus. A frame without a
// face is a negative result, not an error.
func (s *Service) Recognize(ctx context.Context, raw []byte, loc *identity.Location) (Result, error) {
	res, err := s.recognize(ctx, raw, loc)
	switch {
	case err != nil:
		metrics.Recognitions.WithLabelValues("error").Inc()
	case res.Recognized:
		metrics.Recognitions.WithLabelValues("recognized").Inc()
	default:
		metrics.Recognitions.WithLabelValues(string(res.Reason)).Inc()
	}
	return res, err
}

func (s *Service) recognize(ctx context.Context, raw []byte, loc *identity.Location) (Result, error) {
	if err := validLocation(loc); err != nil {
		return Result{}, err
	}
	model, err := s.models.Load(ctx)
	if err != nil {
		return Result{}, err
	}

	face, err := s.extract(raw)
	if errors.Is(err, ErrNoFaceDetected) {
		return Result{Reason: ReasonNoFace, Message: "No face detected"}, nil
	}
	if err != nil {
		return Result{}, err
	}

	p, err := model.Predict(face)
	if err != nil {
		return Result{}, err
	}
	confidence := Confidence(p.Distance)
	if p.Identity == nil {
		return Result{Confidence: confidence, Reason: ReasonUnknown}, nil
	}
	if p.Distance > s.th.MaxDistance {
		return Result{Confidence: confidence, Reason: ReasonLowConfidence}, nil
	}

	res := Result{
		Recognized: true,
		IdentityID: p.Identity.IdentityID,
		Name:       p.Identity.Name,
		Confidence: confidence,
		LocationOK: true,
	}
	if loc == nil {
		return res, nil
	}
	if err := s.checkLocation(ctx, &res, *loc); err != nil {
		return Result{}, err
	}
	return res, nil
}

// validLocation rejects a capture location that must never be trusted or
// stored as a registered location.
func validLocation(loc *identity.Location) error {
	if loc == nil {
		return nil
	}
	if err := loc.Point.Validate(); err != nil {
		return fmt.Errorf("capture location %v,%v: %w", loc.Lat, loc.Lon, err)
	}
	return nil
}

// checkLocation applies the registered-location rule, saving loc as the
// registered location when none exists yet, then the campus rule.
func (s *Service) checkLocation(ctx context.Context, res *Result, loc identity.Location) error {
	registered, err := s.identities.RegisteredLocation(ctx, res.IdentityID)
	if err != nil {
		return fmt.Errorf("registered location: %w", err)
	}
	if registered != nil {
		d := geo.Distance(loc.Point, registered.Point)
		res.DistanceMeters = &d
		res.LocationOK = geo.IsNearRegisteredLocation(loc.Point, registered.Point, s.th.LocationMeters)
	} else {
		if loc.RegisteredAt.IsZero() {
			loc.RegisteredAt = s.now()
		}
		if _, err := s.identities.SaveRegisteredLocation(ctx, res.IdentityID, loc); err != nil {
			return fmt.Errorf("save location: %w", err)
		}
		res.LocationOK = true
	}

	campus, err := s.identities.ActiveCampus(ctx)
	if err != nil {
		return fmt.Errorf("active campus: %w", err)
	}
	if campus != nil {
		inside := geo.IsWithinCampus(loc.Point, campus.Center, campus.RadiusMeters)
		res.OnCampus = &inside
		res.LocationOK = res.LocationOK && inside
	}
	return nil
}
