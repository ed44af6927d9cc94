package handler

import (
	"errors"
	"net/http"

	"notification-engine/internal/engine"
	"notification-engine/internal/model"
	"notification-engine/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type ScheduleHandler struct {
	scheduler *engine.Scheduler
	repo      *repository.ScheduleRepository
	logger    *zap.Logger
}

func NewScheduleHandler(scheduler *engine.Scheduler, repo *repository.ScheduleRepository, logger *zap.Logger) *ScheduleHandler {
	return &ScheduleHandler{scheduler: scheduler, repo: repo, logger: logger}
}

func (h *ScheduleHandler) Create(c *gin.Context) {
	var req struct {
		TemplateID string               `json:"template_id" binding:"required"`
		Recipients model.Recipients     `json:"recipients" binding:"required"`
		Config     model.ScheduleConfig `json:"config" binding:"required"`
		Data       map[string]string    `json:"data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sched := &model.ScheduledNotification{
		TemplateID: req.TemplateID,
		Recipients: req.Recipients,
		Config:     req.Config,
		Data:       req.Data,
	}
	if err := h.scheduler.CreateSchedule(c.Request.Context(), sched); err != nil {
		h.logger.Warn("Create schedule rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, sched)
}

func (h *ScheduleHandler) Get(c *gin.Context) {
	sched, err := h.repo.GetSchedule(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch schedule"})
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (h *ScheduleHandler) Update(c *gin.Context) {
	var req struct {
		Config model.ScheduleConfig `json:"config" binding:"required"`
		Data   map[string]string    `json:"data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sched, err := h.scheduler.UpdateSchedule(c.Request.Context(), c.Param("id"), req.Config, req.Data)
	if err != nil {
		var transition *engine.InvalidStatusTransitionError
		if errors.As(err, &transition) {
			c.JSON(http.StatusConflict, gin.H{"error": transition.Error()})
			return
		}
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
			return
		}
		h.logger.Error("Update schedule failed",
			zap.String("schedule_id", c.Param("id")),
			zap.Error(err),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (h *ScheduleHandler) Delete(c *gin.Context) {
	if err := h.scheduler.DeleteSchedule(c.Request.Context(), c.Param("id")); err != nil {
		h.logger.Error("Delete schedule failed",
			zap.String("schedule_id", c.Param("id")),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete schedule"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
