package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"time"

	"facesense/internal/identity"
	"facesense/internal/metrics"
	"facesense/internal/samples"
)

const archiveTimeout = 30 * time.Second

// EnrollResult reports what one enrollment stored.
type EnrollResult struct {
	IdentityID    int64 `json:"user_id"`
	SampleIndex   int   `json:"samples"`
	LocationSaved bool  `json:"location_saved"`
}

// Enroll stores one more face sample for id. The first sample also records loc
// as the identity's registered location when given; later samples never touch
// it. The trained model is not affected until the next Train.
func (s *Service) Enroll(ctx context.Context, id int64, raw []byte, loc *identity.Location) (EnrollResult, error) {
	res, err := s.enroll(ctx, id, raw, loc)
	switch {
	case err == nil:
		metrics.Enrollments.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrNoFaceDetected):
		metrics.Enrollments.WithLabelValues("no_face").Inc()
	case errors.Is(err, ErrIdentityNotFound):
		metrics.Enrollments.WithLabelValues("not_found").Inc()
	default:
		metrics.Enrollments.WithLabelValues("error").Inc()
	}
	return res, err
}

func (s *Service) enroll(ctx context.Context, id int64, raw []byte, loc *identity.Location) (EnrollResult, error) {
	if err := validLocation(loc); err != nil {
		return EnrollResult{}, err
	}
	ident, err := s.identities.FindIdentity(ctx, id)
	if err != nil {
		return EnrollResult{}, fmt.Errorf("find identity: %w", err)
	}
	if ident == nil {
		return EnrollResult{}, ErrIdentityNotFound
	}

	face, err := s.extract(raw)
	if err != nil {
		return EnrollResult{}, err
	}

	sample, err := s.samples.Append(ctx, id, ident.DisplayName(), face)
	if err != nil {
		return EnrollResult{}, fmt.Errorf("store sample: %w", err)
	}
	rollback := func(cause error) (EnrollResult, error) {
		if err := s.samples.Discard(sample); err != nil {
			log.Printf("enroll %d: discard sample %s: %v", id, sample.Path, err)
		}
		return EnrollResult{}, cause
	}

	res := EnrollResult{IdentityID: id, SampleIndex: sample.Index}
	now := s.now()
	if sample.Index == 1 && loc != nil {
		first := *loc
		if first.RegisteredAt.IsZero() {
			first.RegisteredAt = now
		}
		saved, err := s.identities.SaveRegisteredLocation(ctx, id, first)
		if err != nil {
			return rollback(fmt.Errorf("save location: %w", err))
		}
		res.LocationSaved = saved
	}

	if err := s.identities.UpsertFaceRegistry(ctx, id, s.samples.Dir(id), sample.Index, now); err != nil {
		return rollback(fmt.Errorf("update face registry: %w", err))
	}

	if s.archive != nil {
		go s.archiveSample(sample, face)
	}
	return res, nil
}

func (s *Service) archiveSample(sample samples.Sample, face *image.Gray) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := s.archive.Archive(ctx, sample.IdentityID, sample.Index, face); err != nil {
		log.Printf("enroll %d: archive sample %d: %v", sample.IdentityID, sample.Index, err)
	}
}
