package facemodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"facesense/internal/metrics"
	"facesense/internal/store"
)

const (
	currentFile  = "CURRENT"
	modelFile    = "model.yml"
	labelsFile   = "labels.json"
	keepVersions = 3
)

// TrainLock excludes trainers running in other processes.
type TrainLock interface {
	Acquire(ctx context.Context) (func(), error)
}

type labelFile struct {
	Version   string           `json:"version"`
	Labels    map[int]Label    `json:"labels"`
	IDToName  map[int64]string `json:"id_to_name"`
	NameToID  map[string]int64 `json:"name_to_id"`
	TrainedAt time.Time        `json:"trained_at"`
}

// Registry caches the active model and rebuilds it on Train. Readers never see
// a half-loaded model: a version is published only after both files are read.
type Registry struct {
	dir     string
	backend Backend
	lock    TrainLock

	current atomic.Pointer[Model]
	loads   singleflight.Group

	mu  sync.Mutex // guards gen
	gen uint64

	training sync.Mutex
}

// NewRegistry stores versions under dir. lock may be nil.
func NewRegistry(dir string, backend Backend, lock TrainLock) *Registry {
	return &Registry{dir: dir, backend: backend, lock: lock}
}

// Load returns the cached model, reading the current version from disk on a miss.
func (r *Registry) Load(ctx context.Context) (*Model, error) {
	if m := r.current.Load(); m != nil {
		return m, nil
	}
	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()

	// a load that began before the last Invalidate never serves later callers
	v, err, _ := r.loads.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		if m := r.current.Load(); m != nil {
			return m, nil
		}
		m, err := r.read(ctx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		if r.gen == gen {
			r.current.Store(m)
		}
		r.mu.Unlock()
		metrics.ModelLoads.Inc()
		metrics.ModelLabels.Set(float64(m.Size()))
		log.Printf("face model %s loaded (%d identities)", m.Version, m.Size())
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Model), nil
}

// Invalidate drops the cached model so the next Load reads from disk.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.gen++
	r.current.Store(nil)
	r.mu.Unlock()
}

// Current returns the cached model without loading, or nil.
func (r *Registry) Current() *Model { return r.current.Load() }

// Predict classifies face with the active model.
func (r *Registry) Predict(ctx context.Context, face *image.Gray) (Prediction, error) {
	m, err := r.Load(ctx)
	if err != nil {
		return Prediction{}, err
	}
	return m.Predict(face)
}

// Train fully replaces the model with one built from groups. It fails with
// ErrNoTrainingData before touching anything on disk when groups hold no faces,
// and with ErrTrainingInProgress when another train is running.
func (r *Registry) Train(ctx context.Context, groups []TrainingGroup) (TrainResult, error) {
	if !r.training.TryLock() {
		return TrainResult{}, ErrTrainingInProgress
	}
	defer r.training.Unlock()

	var (
		faces  []*image.Gray
		labels []int
		meta   = labelFile{
			Labels:   make(map[int]Label),
			IDToName: make(map[int64]string),
			NameToID: make(map[string]int64),
		}
	)
	for _, g := range groups {
		if len(g.Faces) == 0 {
			continue
		}
		label := len(meta.Labels)
		meta.Labels[label] = Label{IdentityID: g.IdentityID, Name: g.Name}
		meta.IDToName[g.IdentityID] = g.Name
		meta.NameToID[g.Name] = g.IdentityID
		for _, f := range g.Faces {
			faces = append(faces, f)
			labels = append(labels, label)
		}
	}
	if len(faces) == 0 {
		return TrainResult{}, ErrNoTrainingData
	}

	if r.lock != nil {
		release, err := r.lock.Acquire(ctx)
		if err != nil {
			if errors.Is(err, store.ErrLockHeld) {
				return TrainResult{}, ErrTrainingInProgress
			}
			return TrainResult{}, fmt.Errorf("acquire train lock: %w", err)
		}
		defer release()
	}

	start := time.Now()
	c := r.backend.New()
	if err := c.Train(faces, labels); err != nil {
		return TrainResult{}, fmt.Errorf("train classifier: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return TrainResult{}, err
	}

	meta.TrainedAt = time.Now().UTC()
	meta.Version = meta.TrainedAt.Format("20060102T150405.000000000Z") + "-" + uuid.NewString()[:8]
	if err := r.persist(c, meta); err != nil {
		return TrainResult{}, err
	}
	r.Invalidate()
	r.prune()

	metrics.TrainDuration.Observe(time.Since(start).Seconds())
	log.Printf("face model %s trained: %d identities, %d samples in %s",
		meta.Version, len(meta.Labels), len(faces), time.Since(start).Round(time.Millisecond))

	return TrainResult{
		Version:    meta.Version,
		TrainedAt:  meta.TrainedAt,
		Identities: len(meta.Labels),
		Samples:    len(faces),
	}, nil
}

// persist writes the version directory, then swaps CURRENT to it.
func (r *Registry) persist(c Classifier, meta labelFile) error {
	vdir := filepath.Join(r.dir, meta.Version)
	if err := os.MkdirAll(vdir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	if err := c.Save(filepath.Join(vdir, modelFile)); err != nil {
		return fmt.Errorf("save classifier: %w", err)
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(vdir, labelsFile), b, 0o644); err != nil {
		return fmt.Errorf("write labels: %w", err)
	}

	tmp := filepath.Join(r.dir, currentFile+".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, []byte(meta.Version+"\n"), 0o644); err != nil {
		return fmt.Errorf("write current pointer: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(r.dir, currentFile)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("swap current pointer: %w", err)
	}
	return nil
}

func (r *Registry) read(ctx context.Context) (*Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(filepath.Join(r.dir, currentFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotTrained
		}
		return nil, err
	}
	version := strings.TrimSpace(string(raw))
	if version == "" {
		return nil, ErrNotTrained
	}
	vdir := filepath.Join(r.dir, version)

	b, err := os.ReadFile(filepath.Join(vdir, labelsFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotTrained
		}
		return nil, err
	}
	var meta labelFile
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, fmt.Errorf("decode labels: %w", err)
	}
	if len(meta.Labels) == 0 {
		return nil, ErrNotTrained
	}

	c, err := r.backend.Load(filepath.Join(vdir, modelFile))
	if err != nil {
		return nil, fmt.Errorf("load classifier %s: %w", version, err)
	}
	return &Model{
		Version:    version,
		TrainedAt:  meta.TrainedAt,
		Labels:     meta.Labels,
		classifier: c,
	}, nil
}

// prune removes all but the newest versions, never the current one.
func (r *Registry) prune() {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return
	}
	var versions []string
	for _, e := range entries {
		if e.IsDir() {
			versions = append(versions, e.Name())
		}
	}
	if len(versions) <= keepVersions {
		return
	}
	sort.Strings(versions)
	current, _ := os.ReadFile(filepath.Join(r.dir, currentFile))
	for _, v := range versions[:len(versions)-keepVersions] {
		if v == strings.TrimSpace(string(current)) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(r.dir, v)); err != nil {
			log.Printf("prune model %s: %v", v, err)
		}
	}
}
