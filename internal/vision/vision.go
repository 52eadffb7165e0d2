// Package vision declares the face detection contract. The OpenCV
// implementation lives in vision/cv so callers and their tests stay free of cgo.
package vision

import (
	"errors"
	"image"
)

var (
	// ErrDecode means the bytes are not a readable image.
	ErrDecode = errors.New("image could not be decoded")
	// ErrNoFace means the image decoded but no face was found.
	ErrNoFace = errors.New("no face found")
)

// Params are the fixed detector settings.
type Params struct {
	ScaleFactor  float64
	MinNeighbors int
	MinSize      int
	// FaceSize is the side of the normalized square face.
	FaceSize int
}

// DefaultParams match the Haar frontal-face settings the models were tuned with.
func DefaultParams() Params {
	return Params{ScaleFactor: 1.2, MinNeighbors: 5, MinSize: 80, FaceSize: 200}
}

// Extractor finds the primary face in an encoded image and returns it
// normalized: grayscale, FaceSize x FaceSize. Only the first detection is
// used; further faces in the frame are ignored.
type Extractor interface {
	ExtractFace(raw []byte) (*image.Gray, error)
}
