package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"facesense/internal/attendance"
	"facesense/internal/recognition"
)

type markRequest struct {
	UserID    int64    `json:"user_id"`
	UserName  string   `json:"user_name"`
	Type      string   `json:"type"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	// LocationOK is the recognition verdict; absent means on campus.
	LocationOK *bool `json:"location_ok"`
}

func (h *Handler) markAttendance(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, invalid("%v", err))
		return
	}
	if req.UserID <= 0 {
		writeError(c, invalid("user_id required"))
		return
	}
	intent, err := attendance.ParseIntent(req.Type)
	if err != nil {
		writeError(c, err)
		return
	}

	ctx := c.Request.Context()
	ident, err := h.Identities.FindIdentity(ctx, req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	if ident == nil {
		writeError(c, recognition.ErrIdentityNotFound)
		return
	}
	name := strings.TrimSpace(req.UserName)
	if name == "" {
		name = ident.DisplayName()
	}
	onCampus := true
	if req.LocationOK != nil {
		onCampus = *req.LocationOK
	}

	out, err := h.Attendance.Mark(ctx, attendance.Mark{
		IdentityID: req.UserID,
		Name:       name,
		Intent:     intent,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		OnCampus:   onCampus,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) listAttendance(c *gin.Context) {
	date := h.Attendance.Today()
	if v := c.Query("date"); v != "" {
		d, err := attendance.ParseDate(v)
		if err != nil {
			writeError(c, invalid("%v", err))
			return
		}
		date = d
	}
	records, err := h.Attendance.List(c.Request.Context(), date)
	if err != nil {
		writeError(c, err)
		return
	}
	if records == nil {
		records = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"date": date.Format(attendance.DateLayout), "attendance": records})
}

func (h *Handler) attendanceStats(c *gin.Context) {
	today := h.Attendance.Today()
	start, end := today, today
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"start", &start}, {"end", &end}} {
		v := c.Query(p.key)
		if v == "" {
			continue
		}
		d, err := attendance.ParseDate(v)
		if err != nil {
			writeError(c, invalid("%s: %v", p.key, err))
			return
		}
		*p.dst = d
	}
	stats, err := h.Attendance.Stats(c.Request.Context(), start, end)
	if err != nil {
		writeError(c, err)
		return
	}
	if stats == nil {
		stats = []attendance.DayStats{}
	}
	c.JSON(http.StatusOK, gin.H{
		"start": start.Format(attendance.DateLayout),
		"end":   end.Format(attendance.DateLayout),
		"stats": stats,
	})
}
