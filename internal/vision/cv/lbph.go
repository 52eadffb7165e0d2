package cv

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
	"gocv.io/x/gocv/contrib"

	"facesense/internal/facemodel"
)

const (
	lbphRadius    = 1
	lbphNeighbors = 8
)

// LBPH is the facemodel backend built on OpenCV's local binary pattern
// histogram recognizer.
type LBPH struct{}

var _ facemodel.Backend = LBPH{}

func newRecognizer() *contrib.LBPHFaceRecognizer {
	r := contrib.NewLBPHFaceRecognizer()
	r.SetRadius(lbphRadius)
	r.SetNeighbors(lbphNeighbors)
	return r
}

// New returns an untrained classifier.
func (LBPH) New() facemodel.Classifier {
	return &lbphClassifier{r: newRecognizer()}
}

// Load restores a classifier saved with Save.
func (LBPH) Load(path string) (facemodel.Classifier, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	r := newRecognizer()
	r.LoadFile(path)
	return &lbphClassifier{r: r, trained: true}, nil
}

type lbphClassifier struct {
	mu      sync.Mutex
	r       *contrib.LBPHFaceRecognizer
	trained bool
}

func (c *lbphClassifier) Train(faces []*image.Gray, labels []int) error {
	if len(faces) == 0 || len(faces) != len(labels) {
		return errors.New("faces and labels must be non-empty and aligned")
	}
	mats := make([]gocv.Mat, 0, len(faces))
	defer func() {
		for _, m := range mats {
			_ = m.Close()
		}
	}()
	for i, f := range faces {
		m, err := gocv.ImageGrayToMatGray(f)
		if err != nil {
			return fmt.Errorf("face %d: %w", i, err)
		}
		mats = append(mats, m)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.r.Train(mats, labels)
	c.trained = true
	return nil
}

func (c *lbphClassifier) Predict(face *image.Gray) (int, float64, error) {
	m, err := gocv.ImageGrayToMatGray(face)
	if err != nil {
		return 0, 0, err
	}
	defer m.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.trained {
		return 0, 0, facemodel.ErrNotTrained
	}
	res := c.r.PredictExtendedResponse(m)
	return int(res.Label), float64(res.Confidence), nil
}

func (c *lbphClassifier) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.trained {
		return facemodel.ErrNotTrained
	}
	c.r.SaveFile(path)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("model not written: %w", err)
	}
	return nil
}
