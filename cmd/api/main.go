package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"facesense/internal/app"
	"facesense/internal/config"
	"facesense/internal/handler"
	"facesense/internal/httpmiddleware"
	"facesense/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	go worker.WatchModels(ctx, a.Events, a.Recognition.Models())
	asyncTrain := cfg.TrainMode == "async"
	if asyncTrain && a.InProcessJobs() {
		log.Println("train jobs use the in-memory queue; consuming them in-process")
		go func() {
			if err := worker.Run(ctx, a.Jobs, a.Recognition, a.Events); err != nil {
				log.Printf("in-process worker: %v", err)
			}
		}()
	}
	if _, err := a.Recognition.Models().Load(ctx); err != nil {
		log.Printf("face model not loaded yet: %v", err)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key"}
	corsCfg.MaxAge = 24 * time.Hour
	r.Use(cors.New(corsCfg))
	r.Use(securityHeaders())

	var limiter httpmiddleware.Limiter = httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	if a.Redis != nil {
		limiter = httpmiddleware.NewRedisTokenBucket(a.Redis.Client, "", cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	}
	r.Use(httpmiddleware.GinMiddleware(limiter, cfg.RateLimitPerMin))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		checks := gin.H{}
		status := http.StatusOK
		if a.DB != nil {
			ok := a.DB.Healthy(c.Request.Context())
			checks["db"] = ok
			if !ok {
				status = http.StatusServiceUnavailable
			}
		}
		if a.Redis != nil {
			ok := a.Redis.Healthy(c.Request.Context())
			checks["redis"] = ok
			if !ok {
				status = http.StatusServiceUnavailable
			}
		}
		if m := a.Recognition.Models().Current(); m != nil {
			checks["model_version"] = m.Version
		}
		checks["status"] = "ok"
		if status != http.StatusOK {
			checks["status"] = "degraded"
		}
		c.JSON(status, checks)
	})

	handler.New(handler.Config{
		JWTIssuer:          cfg.JWTIssuer,
		JWTSigningKey:      cfg.JWTSigningKey,
		AccessTTL:          cfg.AccessTTL,
		RefreshTTL:         cfg.RefreshTTL,
		AdminAPIKey:        cfg.AdminAPIKey,
		CampusRadiusMeters: cfg.Verification.CampusRadiusMeters,
		TrainAsync:         asyncTrain,
	}, handler.Deps{
		Identities:  a.Identities,
		Devices:     a.Devices,
		Recognition: a.Recognition,
		Attendance:  a.Attendance,
		Jobs:        a.Jobs,
		Events:      a.Events,
	}).Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
