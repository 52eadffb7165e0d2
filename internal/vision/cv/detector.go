// Package cv implements face detection and LBPH classification with OpenCV.
package cv

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"log"
	"sync"

	"gocv.io/x/gocv"

	"facesense/internal/vision"
)

// Detector runs a Haar cascade over grayscale frames.
type Detector struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	params     vision.Params
}

var _ vision.Extractor = (*Detector)(nil)

// NewDetector loads the cascade at path.
func NewDetector(path string, params vision.Params) (*Detector, error) {
	if params.FaceSize <= 0 {
		params = vision.DefaultParams()
	}
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		_ = classifier.Close()
		return nil, fmt.Errorf("failed to load face cascade classifier from %s", path)
	}
	log.Printf("face detector ready: scale=%.2f neighbors=%d min=%dx%d",
		params.ScaleFactor, params.MinNeighbors, params.MinSize, params.MinSize)
	return &Detector{classifier: classifier, params: params}, nil
}

// Close releases the cascade.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.classifier.Close()
}

// ExtractFace decodes raw, detects faces and returns the first one, cropped
// and resized.
func (d *Detector) ExtractFace(raw []byte) (*image.Gray, error) {
	if len(raw) == 0 {
		return nil, vision.ErrDecode
	}
	img, err := gocv.IMDecode(raw, gocv.IMReadGrayScale)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vision.ErrDecode, err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, vision.ErrDecode
	}

	d.mu.Lock()
	faces := d.classifier.DetectMultiScaleWithParams(
		img,
		d.params.ScaleFactor,
		d.params.MinNeighbors,
		0,
		image.Point{d.params.MinSize, d.params.MinSize},
		image.Point{},
	)
	d.mu.Unlock()
	if len(faces) == 0 {
		return nil, vision.ErrNoFace
	}

	region := img.Region(faces[0])
	defer region.Close()
	resized := gocv.NewMat()
	defer resized.Close()
	size := d.params.FaceSize
	gocv.Resize(region, &resized, image.Point{size, size}, 0, 0, gocv.InterpolationLinear)

	return toGray(resized)
}

func toGray(m gocv.Mat) (*image.Gray, error) {
	img, err := m.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert face: %w", err)
	}
	if g, ok := img.(*image.Gray); ok {
		return g, nil
	}
	if img == nil {
		return nil, errors.New("convert face: empty image")
	}
	g := image.NewGray(img.Bounds())
	draw.Draw(g, g.Bounds(), img, img.Bounds().Min, draw.Src)
	return g, nil
}
