package handler

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"facesense/internal/auth"
	"facesense/internal/queue"
)

func (h *Handler) enroll(c *gin.Context) {
	req, raw, err := readImageRequest(c)
	if err != nil {
		writeError(c, err)
		return
	}
	if req.UserID <= 0 {
		writeError(c, invalid("user_id required"))
		return
	}
	loc, err := req.location()
	if err != nil {
		writeError(c, err)
		return
	}

	res, err := h.Recognition.Enroll(c.Request.Context(), req.UserID, raw, loc)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"ok":             true,
		"user_id":        res.IdentityID,
		"samples":        res.SampleIndex,
		"location_saved": res.LocationSaved,
	})
}

func (h *Handler) recognize(c *gin.Context) {
	req, raw, err := readImageRequest(c)
	if err != nil {
		writeError(c, err)
		return
	}
	loc, err := req.location()
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.Recognition.Recognize(c.Request.Context(), raw, loc)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// recognizeStream answers every binary frame with one recognition result.
// Optional lat and lon query parameters apply to all frames.
func (h *Handler) recognizeStream(c *gin.Context) {
	lat, err := queryFloat(c, "lat")
	if err != nil {
		writeError(c, err)
		return
	}
	lon, err := queryFloat(c, "lon")
	if err != nil {
		writeError(c, err)
		return
	}
	loc, err := parseLocation(lat, lon, nil)
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()
	conn.SetReadLimit(maxImageBytes)

	ctx := c.Request.Context()
	for {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("recognize stream: %v", err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			if err := conn.WriteJSON(gin.H{"error": "frames must be binary images"}); err != nil {
				return
			}
			continue
		}
		var reply any
		res, err := h.Recognition.Recognize(ctx, frame, loc)
		if err != nil {
			if statusOf(err) == http.StatusInternalServerError {
				log.Printf("recognize stream: %v", err)
				reply = gin.H{"error": "internal error"}
			} else {
				reply = gin.H{"error": err.Error()}
			}
		} else {
			reply = res
		}
		if err := conn.WriteJSON(reply); err != nil {
			return
		}
	}
}

func (h *Handler) train(c *gin.Context) {
	ctx := c.Request.Context()
	if h.cfg.TrainAsync && h.Jobs != nil {
		claims, _ := auth.ClaimsFrom(c)
		body, _ := json.Marshal(map[string]string{"requested_by": claims.Subject})
		msg := queue.NewMessage(queue.TypeTrain, body)
		if err := h.Jobs.Publish(ctx, msg); err != nil {
			log.Printf("train: enqueue failed: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "job queue unavailable"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"job_id": msg.ID, "status": "queued"})
		return
	}

	res, err := h.Recognition.Train(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	if h.Events != nil {
		ev := queue.Event{Type: queue.EventModelTrained, Version: res.Version, At: res.TrainedAt}
		if err := h.Events.Broadcast(ctx, ev); err != nil {
			log.Printf("train: broadcast %s: %v", res.Version, err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "model": res})
}
