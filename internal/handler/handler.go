// Package handler exposes enrollment, recognition, attendance and the admin
// surface over HTTP.
package handler

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"facesense/internal/attendance"
	"facesense/internal/auth"
	"facesense/internal/facemodel"
	"facesense/internal/geo"
	"facesense/internal/identity"
	"facesense/internal/queue"
	"facesense/internal/recognition"
	"facesense/internal/vision"
)

const maxImageBytes = 10 << 20

var errInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalidInput, fmt.Sprintf(format, args...))
}

// Config holds the knobs the handlers need from the application config.
type Config struct {
	JWTIssuer          string
	JWTSigningKey      string
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	AdminAPIKey        string
	CampusRadiusMeters float64
	// TrainAsync enqueues train requests instead of training in the request.
	TrainAsync bool
}

// Deps are the services behind the routes. Jobs and Events may be nil.
type Deps struct {
	Identities  identity.Store
	Devices     auth.DeviceStore
	Recognition *recognition.Service
	Attendance  *attendance.Service
	Jobs        queue.Queue
	Events      queue.Broadcaster
}

// Handler serves the v1 API.
type Handler struct {
	cfg Config
	Deps
}

// New builds a Handler.
func New(cfg Config, deps Deps) *Handler {
	if cfg.CampusRadiusMeters <= 0 {
		cfg.CampusRadiusMeters = 500
	}
	return &Handler{cfg: cfg, Deps: deps}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/v1/devices/register", h.registerDevice)
	r.POST("/v1/admin/token", h.adminToken)

	v1 := r.Group("/v1", auth.DeviceAuth(h.cfg.JWTSigningKey, h.cfg.JWTIssuer))
	v1.POST("/faces/enroll", h.enroll)
	v1.POST("/recognize", h.recognize)
	v1.GET("/recognize/stream", h.recognizeStream)
	v1.POST("/attendance/mark", h.markAttendance)
	v1.GET("/attendance", h.listAttendance)
	v1.GET("/attendance/stats", h.attendanceStats)
	v1.GET("/campus", h.getCampus)
	v1.GET("/face-registry", h.faceRegistry)
	v1.GET("/identities", h.listIdentities)
	v1.GET("/identities/:id", h.getIdentity)

	admin := v1.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/train", h.train)
	admin.POST("/campus", h.setCampus)
	admin.POST("/identities", h.createIdentity)
}

// statusOf maps domain errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errInvalidInput),
		errors.Is(err, geo.ErrInvalidPoint),
		errors.Is(err, vision.ErrDecode),
		errors.Is(err, attendance.ErrInvalidIntent),
		errors.Is(err, identity.ErrInvalidRole),
		errors.Is(err, auth.ErrDeviceIDRequired):
		return http.StatusBadRequest
	case errors.Is(err, recognition.ErrIdentityNotFound):
		return http.StatusNotFound
	case errors.Is(err, facemodel.ErrNotTrained):
		return http.StatusServiceUnavailable
	case errors.Is(err, facemodel.ErrTrainingInProgress),
		errors.Is(err, attendance.ErrMustMarkInFirst):
		return http.StatusConflict
	case errors.Is(err, facemodel.ErrNoTrainingData),
		errors.Is(err, recognition.ErrNoFaceDetected):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// imageRequest is the common body of enroll and recognize. It arrives either
// as JSON with a base64 image or as multipart form data with an image file.
type imageRequest struct {
	UserID    int64    `json:"user_id" form:"user_id"`
	Image     string   `json:"image"`
	Latitude  *float64 `json:"latitude" form:"latitude"`
	Longitude *float64 `json:"longitude" form:"longitude"`
	Accuracy  *float64 `json:"accuracy" form:"accuracy"`
}

func readImageRequest(c *gin.Context) (imageRequest, []byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImageBytes)

	var req imageRequest
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		if err := c.ShouldBind(&req); err != nil {
			return req, nil, invalid("%v", err)
		}
		file, _, err := c.Request.FormFile("image")
		if err != nil {
			return req, nil, invalid("image required")
		}
		defer file.Close()
		raw, err := io.ReadAll(file)
		if err != nil {
			return req, nil, invalid("read image: %v", err)
		}
		return req, raw, nil
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		return req, nil, invalid("%v", err)
	}
	if req.Image == "" {
		return req, nil, invalid("image required")
	}
	raw, err := decodeImage(req.Image)
	if err != nil {
		return req, nil, err
	}
	return req, raw, nil
}

// decodeImage accepts plain base64 or a data URL.
func decodeImage(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, invalid("image is not valid base64")
	}
	return raw, nil
}

func (r imageRequest) location() (*identity.Location, error) {
	return parseLocation(r.Latitude, r.Longitude, r.Accuracy)
}

func parseLocation(lat, lon, accuracy *float64) (*identity.Location, error) {
	if lat == nil && lon == nil {
		return nil, nil
	}
	if lat == nil || lon == nil {
		return nil, invalid("latitude and longitude must be given together")
	}
	p := geo.Point{Lat: *lat, Lon: *lon}
	if err := p.Validate(); err != nil {
		return nil, invalid("latitude and longitude must be finite and in range")
	}
	if accuracy != nil && (math.IsNaN(*accuracy) || math.IsInf(*accuracy, 0) || *accuracy < 0) {
		return nil, invalid("accuracy must be a non-negative number")
	}
	return &identity.Location{Point: p, Accuracy: accuracy}, nil
}

func queryFloat(c *gin.Context, key string) (*float64, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, invalid("%s must be a number", key)
	}
	return &f, nil
}
