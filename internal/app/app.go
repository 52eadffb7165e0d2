// Package app assembles the stores, queues and pipelines shared by the api,
// worker and facesensectl binaries.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"facesense/internal/attendance"
	"facesense/internal/auth"
	"facesense/internal/cloudinary"
	"facesense/internal/config"
	"facesense/internal/facemodel"
	"facesense/internal/identity"
	"facesense/internal/queue"
	"facesense/internal/recognition"
	"facesense/internal/samples"
	"facesense/internal/store"
	"facesense/internal/vision"
	"facesense/internal/vision/cv"
)

const trainLockTTL = 30 * time.Minute

// App is one wired process.
type App struct {
	Config config.App

	DB    *store.DB
	Redis *store.Redis

	Identities  identity.Store
	Devices     auth.DeviceStore
	Attendance  *attendance.Service
	Recognition *recognition.Service
	Jobs        queue.Queue
	Events      queue.Broadcaster

	closers []func() error
}

// NewStores opens storage, redis and the queues, leaving Recognition unset.
// It is enough for commands that never touch faces.
func NewStores(ctx context.Context, cfg config.App) (*App, error) {
	a := &App{Config: cfg}
	if err := a.openStores(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.RedisAddr != "" {
		a.Redis = store.NewRedis(cfg.RedisAddr)
		a.closers = append(a.closers, a.Redis.Close)
		if !a.Redis.Healthy(ctx) {
			log.Printf("warning: redis not reachable at %s", cfg.RedisAddr)
		}
	}
	a.openQueues()
	return a, nil
}

// New connects storage and builds every service from cfg.
func New(ctx context.Context, cfg config.App) (*App, error) {
	a, err := NewStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	detector, err := cv.NewDetector(cfg.Vision.CascadePath, vision.Params{
		ScaleFactor:  cfg.Vision.ScaleFactor,
		MinNeighbors: cfg.Vision.MinNeighbors,
		MinSize:      cfg.Vision.MinSize,
		FaceSize:     cfg.Vision.FaceSize,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, detector.Close)

	var lock facemodel.TrainLock
	if a.Redis != nil {
		lock = store.NewLock(a.Redis.Client, "facesense:train-lock", trainLockTTL)
	}
	models := facemodel.NewRegistry(cfg.ModelsDir, cv.LBPH{}, lock)

	var archive recognition.Archiver
	if cfg.CloudinaryEnabled() {
		archive = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("cloudinary archive configured:", cfg.CloudinaryCloudName)
	}

	a.Recognition = recognition.NewService(a.Identities, samples.New(cfg.DatasetDir, cfg.Vision.FaceSize),
		detector, models, archive, recognition.Thresholds{
			MaxDistance:    cfg.Verification.ConfidenceThreshold,
			LocationMeters: cfg.Verification.LocationThresholdMeters,
		})
	return a, nil
}

func (a *App) openStores(ctx context.Context) error {
	cfg := a.Config
	if cfg.StoreBackend == "memory" {
		ids := identity.NewMemory()
		att := attendance.NewMemory()
		att.Names = func(id int64) string {
			if ident, _ := ids.FindIdentity(context.Background(), id); ident != nil {
				return ident.DisplayName()
			}
			return ""
		}
		a.Identities, a.Devices = ids, auth.NewMemory()
		a.Attendance = attendance.NewService(att, cfg.Location())
		log.Println("using in-memory stores")
		return nil
	}

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return fmt.Errorf("db connect: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)
	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	a.Identities = identity.NewRepository(db.Client)
	a.Devices = auth.NewRepository(db.Client)
	a.Attendance = attendance.NewService(attendance.NewRepository(db.Client), cfg.Location())
	return nil
}

func (a *App) openQueues() {
	cfg := a.Config
	switch {
	case cfg.QueueBackend == "amqp":
		q := queue.NewAMQPQueue(cfg.AMQPURL, "")
		a.Jobs = q
		a.closers = append(a.closers, q.Close)
	case cfg.QueueBackend == "memory" || a.Redis == nil:
		a.Jobs = queue.NewInMemory(64)
	default:
		a.Jobs = queue.NewRedisQueue(a.Redis.Client, "")
	}

	if a.Redis != nil {
		a.Events = queue.NewRedisBroadcaster(a.Redis.Client, "")
	} else {
		a.Events = queue.NewMemoryBroadcaster()
	}
}

// InProcessJobs reports whether jobs never leave this process, so the api
// must consume them itself.
func (a *App) InProcessJobs() bool {
	_, ok := a.Jobs.(*queue.InMemory)
	return ok
}

// Close releases everything New opened, newest first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("close: %v", err)
		}
	}
	a.closers = nil
}
