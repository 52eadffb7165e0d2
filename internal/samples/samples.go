// Package samples keeps normalized enrollment faces on disk, one directory per
// identity, numbered 1..N.
package samples

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/image/draw"

	"facesense/internal/keylock"
)

const jpegQuality = 95

// Sample is one stored face.
type Sample struct {
	IdentityID int64
	Index      int
	Path       string
}

// Group is every sample of one identity, decoded and normalized.
type Group struct {
	IdentityID int64
	Faces      []*image.Gray
}

// Store writes and reads samples under a root directory.
type Store struct {
	root  string
	size  int
	locks *keylock.Map
}

// New creates a store rooted at dir. Faces read back are normalized to size x size.
func New(dir string, size int) *Store {
	if size <= 0 {
		size = 200
	}
	return &Store{root: dir, size: size, locks: keylock.New()}
}

// Dir is where the samples of id live.
func (s *Store) Dir(id int64) string {
	return filepath.Join(s.root, strconv.FormatInt(id, 10))
}

// Count returns how many samples id has.
func (s *Store) Count(id int64) (int, error) {
	files, err := s.files(s.Dir(id))
	return len(files), err
}

// Append stores face as the next sample of id. Concurrent appends for the
// same identity get distinct indexes.
func (s *Store) Append(ctx context.Context, id int64, name string, face *image.Gray) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	unlock := s.locks.Lock(strconv.FormatInt(id, 10))
	defer unlock()

	dir := s.Dir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Sample{}, fmt.Errorf("create sample dir: %w", err)
	}
	existing, err := s.files(dir)
	if err != nil {
		return Sample{}, err
	}

	tmp, err := os.CreateTemp(dir, ".sample-*.tmp")
	if err != nil {
		return Sample{}, fmt.Errorf("create temp sample: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := jpeg.Encode(tmp, face, &jpeg.Options{Quality: jpegQuality}); err != nil {
		tmp.Close()
		return Sample{}, fmt.Errorf("encode sample: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Sample{}, err
	}

	prefix := slug(name)
	for index := len(existing) + 1; ; index++ {
		path := filepath.Join(dir, fmt.Sprintf("%s_%03d.jpg", prefix, index))
		// link fails if the name is taken, so a sample is never overwritten
		err := os.Link(tmp.Name(), path)
		if err == nil {
			return Sample{IdentityID: id, Index: index, Path: path}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return Sample{}, fmt.Errorf("store sample: %w", err)
		}
	}
}

// Discard removes a sample written by a failed enrollment.
func (s *Store) Discard(sample Sample) error {
	unlock := s.locks.Lock(strconv.FormatInt(sample.IdentityID, 10))
	defer unlock()
	err := os.Remove(sample.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ListAll decodes every sample grouped by identity. Directories whose name is
// not a numeric id and files that fail to decode are skipped.
func (s *Store) ListAll(ctx context.Context) ([]Group, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var groups []Group
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() {
			continue
		}
		id, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil {
			continue
		}
		files, err := s.files(filepath.Join(s.root, e.Name()))
		if err != nil {
			return nil, err
		}
		g := Group{IdentityID: id}
		for _, path := range files {
			face, err := s.read(path)
			if err != nil {
				log.Printf("samples: skip %s: %v", path, err)
				continue
			}
			g.Faces = append(g.Faces, face)
		}
		if len(g.Faces) > 0 {
			groups = append(groups, g)
		}
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a].IdentityID < groups[b].IdentityID })
	return groups, nil
}

func (s *Store) read(path string) (*image.Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	return Normalize(img, s.size), nil
}

func (s *Store) files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Normalize converts img to a size x size grayscale image. Images already in
// that shape are returned as is.
func Normalize(img image.Image, size int) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Dx() == size && g.Bounds().Dy() == size && g.Bounds().Min == (image.Point{}) {
		return g
	}
	dst := image.NewGray(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

func slug(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "face"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == ' ':
			b.WriteByte('_')
		case r == '/' || r == '\\' || r == '.':
			b.WriteByte('-')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
