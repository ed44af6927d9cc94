package handler

import (
	"errors"
	"net/http"
	"time"

	"notification-engine/internal/engine"
	"notification-engine/internal/model"
	"notification-engine/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type NotificationHandler struct {
	orchestrator *engine.Orchestrator
	tracker      *engine.Tracker
	repo         *repository.NotificationRepository
	logger       *zap.Logger
}

func NewNotificationHandler(orchestrator *engine.Orchestrator, tracker *engine.Tracker, repo *repository.NotificationRepository, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		orchestrator: orchestrator,
		tracker:      tracker,
		repo:         repo,
		logger:       logger,
	}
}

func (h *NotificationHandler) List(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}

	notifications, err := h.repo.ListByUser(c.Request.Context(), userID, 100)
	if err != nil {
		h.logger.Error("List notifications failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id := c.Param("id")
	if err := h.orchestrator.MarkRead(c.Request.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
		h.logger.Error("MarkRead failed", zap.String("notification_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *NotificationHandler) MarkDismissed(c *gin.Context) {
	id := c.Param("id")
	if err := h.orchestrator.MarkDismissed(c.Request.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
		h.logger.Error("MarkDismissed failed", zap.String("notification_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to dismiss"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Confirm ingests out-of-band transport confirmations from the push and
// email workers: {"channel": "push", "status": "delivered"|"clicked"}.
func (h *NotificationHandler) Confirm(c *gin.Context) {
	id := c.Param("id")

	var req struct {
		Channel model.Channel `json:"channel" binding:"required"`
		Status  string        `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var err error
	switch req.Status {
	case "delivered":
		err = h.orchestrator.TrackDelivered(c.Request.Context(), id, req.Channel)
	case "clicked":
		err = h.orchestrator.TrackClick(c.Request.Context(), id, req.Channel)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be delivered or clicked"})
		return
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
		h.logger.Error("Confirm failed",
			zap.String("notification_id", id),
			zap.String("status", req.Status),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record confirmation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Analytics aggregates delivery records, optionally scoped by user and
// RFC3339 from/to bounds.
func (h *NotificationHandler) Analytics(c *gin.Context) {
	var from, to *time.Time
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from timestamp"})
			return
		}
		from = &t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to timestamp"})
			return
		}
		to = &t
	}

	analytics, err := h.tracker.Analytics(c.Request.Context(), c.Query("user_id"), from, to)
	if err != nil {
		h.logger.Error("Analytics failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate deliveries"})
		return
	}
	c.JSON(http.StatusOK, analytics)
}
