package handler

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"facesense/internal/auth"
	"facesense/internal/geo"
	"facesense/internal/identity"
	"facesense/internal/recognition"
)

func (h *Handler) registerDevice(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, invalid("%v", err))
		return
	}
	ctx := c.Request.Context()
	if err := h.Devices.UpsertDevice(ctx, req.DeviceID); err != nil {
		writeError(c, err)
		return
	}
	h.issue(c, req.DeviceID, auth.RoleDevice)
}

// adminToken exchanges the configured admin API key for an admin token.
func (h *Handler) adminToken(c *gin.Context) {
	key := c.GetHeader("X-API-Key")
	if key == "" {
		var req struct {
			APIKey string `json:"api_key"`
		}
		_ = c.ShouldBindJSON(&req)
		key = req.APIKey
	}
	if !auth.CheckAPIKey(h.cfg.AdminAPIKey, key) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
		return
	}
	h.issue(c, "admin", auth.RoleAdmin)
}

func (h *Handler) issue(c *gin.Context, subject, role string) {
	tokens, err := auth.Issue(subject, role, h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.AccessTTL, h.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	if role == auth.RoleDevice {
		if err := h.Devices.SaveRefreshToken(c.Request.Context(), subject, tokens.RefreshToken, tokens.RefreshExp); err != nil {
			log.Printf("save refresh token for %s: %v", subject, err)
		}
	}
	c.JSON(http.StatusCreated, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func (h *Handler) getCampus(c *gin.Context) {
	campus, err := h.Identities.ActiveCampus(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campus": campus})
}

func (h *Handler) setCampus(c *gin.Context) {
	var req struct {
		Name         string   `json:"name"`
		Latitude     *float64 `json:"latitude"`
		Longitude    *float64 `json:"longitude"`
		RadiusMeters *float64 `json:"radius_meters"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, invalid("%v", err))
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeError(c, invalid("latitude and longitude required"))
		return
	}
	loc, err := parseLocation(req.Latitude, req.Longitude, nil)
	if err != nil {
		writeError(c, err)
		return
	}
	radius := h.cfg.CampusRadiusMeters
	if req.RadiusMeters != nil {
		radius = *req.RadiusMeters
	}
	if radius <= 0 {
		writeError(c, invalid("radius_meters must be positive"))
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Main Campus"
	}

	campus, err := h.Identities.SetCampus(c.Request.Context(), identity.Campus{
		Name:         name,
		Center:       geo.Point{Lat: loc.Lat, Lon: loc.Lon},
		RadiusMeters: radius,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true, "campus": campus})
}

func (h *Handler) faceRegistry(c *gin.Context) {
	entries, err := h.Identities.ListFaceRegistry(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []identity.RegistryEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"faces": entries})
}

func (h *Handler) listIdentities(c *gin.Context) {
	ids, err := h.Identities.ListIdentities(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if ids == nil {
		ids = []identity.Identity{}
	}
	c.JSON(http.StatusOK, gin.H{"identities": ids})
}

// getIdentity is the per-person record: the identity, its registered
// location and its enrollment progress.
func (h *Handler) getIdentity(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, invalid("id must be a positive integer"))
		return
	}
	ctx := c.Request.Context()
	ident, err := h.Identities.FindIdentity(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	if ident == nil {
		writeError(c, recognition.ErrIdentityNotFound)
		return
	}
	loc, err := h.Identities.RegisteredLocation(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	entry, err := h.Identities.FaceRegistryEntry(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}

	out := gin.H{
		"identity":           ident,
		"name":               ident.DisplayName(),
		"location":           loc,
		"face_samples":       0,
		"face_registered_at": nil,
	}
	if entry != nil {
		out["face_samples"] = entry.SamplesCount
		out["face_registered_at"] = entry.RegisteredAt
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) createIdentity(c *gin.Context) {
	var req struct {
		FirstName string  `json:"first_name"`
		LastName  string  `json:"last_name"`
		Role      string  `json:"role"`
		Email     *string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, invalid("%v", err))
		return
	}
	created, err := h.Identities.CreateIdentity(c.Request.Context(), identity.Identity{
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Role:      identity.Role(strings.ToLower(req.Role)),
		Email:     req.Email,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}
