package monitor

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"rfidmonitor/internal/attendance"
	"rfidmonitor/internal/auth"
	"rfidmonitor/internal/engine"
	"rfidmonitor/internal/scanner"
)

// Handler exposes the monitor over the authed terminal API.
type Handler struct {
	registry *Registry
	now      func() time.Time
}

// NewHandler creates a handler over a session registry.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry, now: time.Now}
}

// Register mounts the monitor routes on an authed group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/scan/keys", h.postKeys)
	rg.POST("/scan", h.postScan)
	rg.GET("/monitor/stream", h.stream)
	rg.DELETE("/monitor/session", h.deleteSession)
}

func terminalID(c *gin.Context) string {
	claimsAny, _ := c.Get("claims")
	claims, _ := claimsAny.(auth.Claims)
	return claims.Subject
}

func (h *Handler) session(c *gin.Context) (*Session, bool) {
	id := terminalID(c)
	if id == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "terminal identity required"})
		return nil, false
	}
	s, err := h.registry.Get(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return s, true
}

// postKeys ingests a batch of raw key events from the reader.
func (h *Handler) postKeys(c *gin.Context) {
	var req struct {
		Events []scanner.KeyEvent `json:"events" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}
	s.HandleKeys(req.Events)
	c.JSON(http.StatusAccepted, gin.H{"accepted": len(req.Events)})
}

// postScan processes an already-complete tag, bypassing the decoder.
func (h *Handler) postScan(c *gin.Context) {
	var req struct {
		Tag string `json:"tag" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}

	tr, err := s.Engine.ProcessScan(c.Request.Context(), req.Tag)
	switch {
	case errors.Is(err, engine.ErrBusy):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "scan already in progress"})
	case errors.Is(err, engine.ErrStudentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "no student for tag"})
	case errors.Is(err, attendance.ErrAlreadyCheckedOut):
		c.JSON(http.StatusConflict, gin.H{"error": "already checked out today"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process attendance"})
	default:
		c.JSON(http.StatusOK, gin.H{"kind": tr.Kind.String(), "record": tr.Record})
	}
}

// streamFrame is one SSE snapshot: the clock banner plus the projector state.
type streamFrame struct {
	Date  string `json:"date"`
	Time  string `json:"time"`
	State any    `json:"state"`
}

// stream pushes projector snapshots and notifications over SSE until the
// client disconnects.
func (h *Handler) stream(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	msgs, cancelSub := s.Notifs.Subscribe()
	defer cancelSub()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	emit := func() {
		now := h.now()
		c.SSEvent("snapshot", streamFrame{
			Date:  strings.ToUpper(now.Format("Monday, January 2, 2006")),
			Time:  now.Format("03:04:05 PM"),
			State: s.Projector.Snapshot(),
		})
		c.Writer.Flush()
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	emit()
	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case msg, open := <-msgs:
			if !open {
				return
			}
			c.SSEvent("notice", msg)
			c.Writer.Flush()
		case <-ticker.C:
			emit()
		}
	}
}

// deleteSession tears down the terminal's session explicitly.
func (h *Handler) deleteSession(c *gin.Context) {
	id := terminalID(c)
	if id == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "terminal identity required"})
		return
	}
	h.registry.Remove(id)
	c.Status(http.StatusNoContent)
}
