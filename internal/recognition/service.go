// Package recognition turns captured frames into trust decisions: enrollment
// of new samples, identification against the trained model with location
// checks, and model training from every stored sample.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"time"

	"facesense/internal/facemodel"
	"facesense/internal/identity"
	"facesense/internal/samples"
	"facesense/internal/vision"
)

var (
	ErrIdentityNotFound = errors.New("identity not found")
	ErrNoFaceDetected   = errors.New("no face detected")
)

// Archiver keeps an off-site copy of enrollment samples.
type Archiver interface {
	Archive(ctx context.Context, identityID int64, index int, face *image.Gray) error
}

// Thresholds are the tunable acceptance limits.
type Thresholds struct {
	// MaxDistance rejects matches whose classifier distance is above it.
	MaxDistance float64
	// LocationMeters is how far from the registered location a capture may be.
	LocationMeters float64
}

// Service runs the enrollment, recognition and training pipelines.
type Service struct {
	identities identity.Store
	samples    *samples.Store
	faces      vision.Extractor
	models     *facemodel.Registry
	archive    Archiver
	th         Thresholds
	now        func() time.Time
}

// NewService wires the pipelines. archive may be nil.
func NewService(ids identity.Store, store *samples.Store, faces vision.Extractor, models *facemodel.Registry, archive Archiver, th Thresholds) *Service {
	return &Service{
		identities: ids,
		samples:    store,
		faces:      faces,
		models:     models,
		archive:    archive,
		th:         th,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Models exposes the model registry, e.g. for invalidation on broadcast.
func (s *Service) Models() *facemodel.Registry { return s.models }

// Train rebuilds the model from every stored sample. Sample directories that
// belong to no known identity are left out.
func (s *Service) Train(ctx context.Context) (facemodel.TrainResult, error) {
	stored, err := s.samples.ListAll(ctx)
	if err != nil {
		return facemodel.TrainResult{}, fmt.Errorf("list samples: %w", err)
	}
	groups := make([]facemodel.TrainingGroup, 0, len(stored))
	for _, g := range stored {
		ident, err := s.identities.FindIdentity(ctx, g.IdentityID)
		if err != nil {
			return facemodel.TrainResult{}, fmt.Errorf("find identity %d: %w", g.IdentityID, err)
		}
		if ident == nil {
			log.Printf("train: skip samples of unknown identity %d", g.IdentityID)
			continue
		}
		groups = append(groups, facemodel.TrainingGroup{
			IdentityID: ident.ID,
			Name:       ident.DisplayName(),
			Faces:      g.Faces,
		})
	}
	return s.models.Train(ctx, groups)
}

func (s *Service) extract(raw []byte) (*image.Gray, error) {
	face, err := s.faces.ExtractFace(raw)
	if err != nil {
		if errors.Is(err, vision.ErrNoFace) {
			return nil, ErrNoFaceDetected
		}
		return nil, err
	}
	return face, nil
}
