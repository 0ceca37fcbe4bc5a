package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/truckdesk/screenshare/internal/api/http/converter"
	"github.com/truckdesk/screenshare/internal/domain"
	"github.com/truckdesk/screenshare/internal/repository"
	"github.com/truckdesk/screenshare/internal/service"
)

type SessionController struct {
	sessions service.SessionInteractor
	feed     *repository.Feed
	upgrader websocket.Upgrader
}

func NewSessionController(sessions service.SessionInteractor, feed *repository.Feed) *SessionController {
	return &SessionController{
		sessions: sessions,
		feed:     feed,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (c *SessionController) CreateSession(ctx *gin.Context) {
	type CreateSessionRequest struct {
		TenantID    string `json:"tenant_id" binding:"required"`
		UserID      string `json:"user_id" binding:"required"`
		InitiatedBy string `json:"initiated_by" binding:"required"`
	}
	var req CreateSessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant uuid"})
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid user uuid"})
		return
	}
	role := domain.Role(req.InitiatedBy)
	if !role.Valid() {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "initiated_by must be admin or client"})
		return
	}

	sess, err := c.sessions.Create(ctx.Request.Context(), tenantID, userID, role)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"session": converter.SessionToApi(sess)})
}

func (c *SessionController) ListSessions(ctx *gin.Context) {
	sessions, err := c.sessions.ListLive(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]*converter.SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, converter.SessionToApi(s))
	}
	ctx.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (c *SessionController) GetSession(ctx *gin.Context) {
	id, err := uuid.Parse(ctx.Param("sessionID"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	sess, err := c.sessions.Get(ctx.Request.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repository.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		ctx.JSON(status, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"session": converter.SessionToApi(sess)})
}

// ClaimSession binds the caller to a pending session by its code. Claim
// failures are terminal for the attempt; the caller gets a distinct message
// per cause and no retry happens server-side.
func (c *SessionController) ClaimSession(ctx *gin.Context) {
	type ClaimRequest struct {
		Code   string `json:"code" binding:"required"`
		UserID string `json:"user_id" binding:"required"`
	}
	var req ClaimRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid user uuid"})
		return
	}

	sess, role, err := c.sessions.Claim(ctx.Request.Context(), req.Code, userID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, service.ErrInvalidCode):
			status = http.StatusBadRequest
		case errors.Is(err, repository.ErrCodeNotFound):
			status = http.StatusNotFound
		case errors.Is(err, repository.ErrSessionClaimed):
			status = http.StatusConflict
		case errors.Is(err, repository.ErrSelfClaim):
			status = http.StatusConflict
		}
		ctx.JSON(status, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"session": converter.SessionToApi(sess),
		"role":    role,
	})
}

func (c *SessionController) EndSession(ctx *gin.Context) {
	id, err := uuid.Parse(ctx.Param("sessionID"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	if err := c.sessions.End(ctx.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repository.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		ctx.JSON(status, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ended"})
}

// SessionFeed upgrades to a websocket and streams change-feed snapshots for
// one session. Inbound messages carry the participant's heartbeat.
func (c *SessionController) SessionFeed(ctx *gin.Context) {
	id, err := uuid.Parse(ctx.Param("sessionID"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	role := domain.Role(ctx.Query("role"))
	if !role.Valid() {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "role must be admin or client"})
		return
	}

	sess, err := c.sessions.Get(ctx.Request.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repository.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		ctx.JSON(status, gin.H{"error": err.Error()})
		return
	}
	if !sess.Live() {
		ctx.JSON(http.StatusGone, gin.H{"error": repository.ErrSessionNotLive.Error()})
		return
	}

	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		ctx.String(http.StatusInternalServerError, "failed to upgrade connection")
		return
	}

	events, cancel := c.feed.SubscribeSession(id)
	defer cancel()

	// Current snapshot first so a late joiner sees the offer and candidates
	// written before it subscribed.
	_ = conn.WriteJSON(converter.SessionToFeedEvent(sess))

	go func() {
		// Closing here unblocks the read loop below when a write fails.
		defer conn.Close()
		for ev := range events {
			if err := conn.WriteJSON(converter.SessionToFeedEvent(ev.Session)); err != nil {
				return
			}
		}
	}()

	for {
		type inbound struct {
			Type string `json:"type"`
		}
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			conn.Close()
			return
		}
		if msg.Type == "heartbeat" {
			_ = c.sessions.Heartbeat(context.Background(), id, role)
		}
	}
}
