// Package httpapi exposes accounts, members and attendance over HTTP.
package httpapi

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gracelog/internal/attendance"
	"gracelog/internal/audit"
	"gracelog/internal/auth"
	"gracelog/internal/member"
	"gracelog/internal/session"
)

// AuditLog reads the session audit trail. *audit.Repository implements it.
type AuditLog interface {
	ForUser(ctx context.Context, userID string, limit int) ([]audit.Entry, error)
}

// Handler serves the /v1 API.
type Handler struct {
	auth       *auth.Service
	members    *member.Service
	attendance *attendance.Service
	bus        session.Bus
	audit      AuditLog
	log        *zap.Logger
	heartbeat  time.Duration
}

// New creates a handler. bus may be nil, which disables the event stream;
// trail may be nil, which disables the audit listing.
func New(a *auth.Service, m *member.Service, att *attendance.Service, bus session.Bus, trail AuditLog, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{auth: a, members: m, attendance: att, bus: bus, audit: trail, log: log, heartbeat: 25 * time.Second}
}

// ---------- Auth ----------

type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) SignUp(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.auth.SignUp(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": u})
}

func (h *Handler) SignIn(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.auth.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) SignOut(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	if err := h.auth.SignOut(c.Request.Context(), claims.Subject, claims.Email); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SessionEvents streams the caller's session transitions as server-sent
// events. The stream ends after a signed_out event.
func (h *Handler) SessionEvents(c *gin.Context) {
	if h.bus == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session events not configured"})
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	events, unsubscribe, err := h.bus.Subscribe(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer unsubscribe()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-events:
			if !ok {
				return false
			}
			if evt.UserID != claims.Subject {
				return true
			}
			c.SSEvent(string(evt.Type), evt)
			return evt.Type != session.SignedOut
		case <-heartbeat.C:
			_, err := io.WriteString(w, ": ping\n\n")
			return err == nil
		}
	})
}

// SessionAudit lists the caller's recorded session events, newest first.
func (h *Handler) SessionAudit(c *gin.Context) {
	if h.audit == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session audit not configured"})
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a number"})
			return
		}
		limit = parsed
	}
	claims, _ := auth.ClaimsFrom(c)
	entries, err := h.audit.ForUser(c.Request.Context(), claims.Subject, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// ---------- Members ----------

func (h *Handler) ListMembers(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	members, err := h.members.List(c.Request.Context(), claims.Subject)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

// AddMember leaves blank checks to the service so that " " is rejected the
// same way as a missing field.
func (h *Handler) AddMember(c *gin.Context) {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	m, err := h.members.Add(c.Request.Context(), claims.Subject, req.Name, req.Email)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"member": m})
}

func (h *Handler) DeleteMember(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	if err := h.members.Delete(c.Request.Context(), claims.Subject, c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---------- Attendance ----------

// dateQuery reads ?date=, defaulting to today.
func dateQuery(c *gin.Context) (attendance.Date, error) {
	v := c.Query("date")
	if v == "" {
		return attendance.Today(), nil
	}
	return attendance.ParseDate(v)
}

func (h *Handler) MemberAttendance(c *gin.Context) {
	date, err := dateQuery(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	memberID := c.Param("id")
	st, err := h.attendance.Get(c.Request.Context(), claims.Subject, memberID, date)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"member_id": memberID,
		"date":      date,
		"status":    st,
		"present":   st.Present(),
	})
}

func (h *Handler) ToggleAttendance(c *gin.Context) {
	var req struct {
		Date string `json:"date" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	date, err := attendance.ParseDate(req.Date)
	if err != nil {
		h.respondError(c, err)
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	rec, err := h.attendance.Toggle(c.Request.Context(), claims.Subject, c.Param("id"), date)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec, "status": attendance.StatusOf(&rec)})
}

func (h *Handler) AttendanceForDate(c *gin.Context) {
	date, err := dateQuery(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	statuses, err := h.attendance.StatusForDate(c.Request.Context(), claims.Subject, date)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "statuses": statuses})
}
