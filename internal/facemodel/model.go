// Package facemodel owns the trained face classifier: training, versioned
// persistence, and the process-wide cached copy used for prediction.
package facemodel

import (
	"errors"
	"fmt"
	"image"
	"time"
)

var (
	ErrNotTrained         = errors.New("face model not trained")
	ErrNoTrainingData     = errors.New("no training samples")
	ErrTrainingInProgress = errors.New("training already in progress")
)

// Classifier is a trainable face classifier. Predict returns a distance: lower
// is a better match.
type Classifier interface {
	Train(faces []*image.Gray, labels []int) error
	Predict(face *image.Gray) (label int, distance float64, err error)
	Save(path string) error
}

// Backend creates and restores classifiers.
type Backend interface {
	New() Classifier
	Load(path string) (Classifier, error)
}

// Label ties an internal classifier label to an identity.
type Label struct {
	IdentityID int64  `json:"identity_id"`
	Name       string `json:"name"`
}

// Model is one immutable trained version.
type Model struct {
	Version   string
	TrainedAt time.Time
	Labels    map[int]Label

	classifier Classifier
}

// Prediction is the raw classifier answer for one face.
type Prediction struct {
	Label    int
	Distance float64
	// Identity is nil when the label is not in the model's label map.
	Identity *Label
}

// Predict classifies a normalized face.
func (m *Model) Predict(face *image.Gray) (Prediction, error) {
	label, distance, err := m.classifier.Predict(face)
	if err != nil {
		return Prediction{}, fmt.Errorf("predict: %w", err)
	}
	p := Prediction{Label: label, Distance: distance}
	if l, ok := m.Labels[label]; ok {
		p.Identity = &l
	}
	return p, nil
}

// Size is the number of identities the model knows.
func (m *Model) Size() int { return len(m.Labels) }

// TrainingGroup is every face of one identity.
type TrainingGroup struct {
	IdentityID int64
	Name       string
	Faces      []*image.Gray
}

// TrainResult describes a freshly persisted version.
type TrainResult struct {
	Version    string    `json:"version"`
	TrainedAt  time.Time `json:"trained_at"`
	Identities int       `json:"identities"`
	Samples    int       `json:"samples"`
}
