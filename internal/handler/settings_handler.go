package handler

import (
	"net/http"

	"notification-engine/internal/model"
	"notification-engine/internal/repository"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SettingsHandler covers the per-user delivery knobs: preferences,
// rate limit policies and batching rules.
type SettingsHandler struct {
	prefs    *repository.PreferenceRepository
	throttle *repository.ThrottleRepository
	batches  *repository.BatchRepository
	logger   *zap.Logger
}

func NewSettingsHandler(prefs *repository.PreferenceRepository, throttle *repository.ThrottleRepository, batches *repository.BatchRepository, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{prefs: prefs, throttle: throttle, batches: batches, logger: logger}
}

func (h *SettingsHandler) GetPreference(c *gin.Context) {
	userID := c.Query("user_id")
	templateType := c.Query("template_type")
	if userID == "" || templateType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and template_type required"})
		return
	}

	pref, err := h.prefs.GetOrCreate(c.Request.Context(), userID, templateType)
	if err != nil {
		h.logger.Error("Get preference failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch preference"})
		return
	}
	c.JSON(http.StatusOK, pref)
}

func (h *SettingsHandler) UpdatePreference(c *gin.Context) {
	var req model.Preference
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.UserID == "" || req.TemplateType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and template_type required"})
		return
	}

	// Ensure the row exists so a first-time update behaves like a set.
	if _, err := h.prefs.GetOrCreate(c.Request.Context(), req.UserID, req.TemplateType); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ensure preference"})
		return
	}
	if err := h.prefs.Update(c.Request.Context(), &req); err != nil {
		h.logger.Error("Update preference failed",
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update preference"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SettingsHandler) SetRateLimitPolicy(c *gin.Context) {
	var req struct {
		UserID       string        `json:"user_id" binding:"required"`
		Channel      model.Channel `json:"channel" binding:"required"`
		TemplateType string        `json:"template_type"`
		Category     string        `json:"category"`
		MaxPerMinute int           `json:"max_per_minute" binding:"required"`
		MaxPerHour   int           `json:"max_per_hour" binding:"required"`
		MaxPerDay    int           `json:"max_per_day" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	existing, err := h.throttle.FindPolicy(c.Request.Context(), req.UserID, req.Channel, req.TemplateType, req.Category)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up policy"})
		return
	}

	policy := &model.RateLimitPolicy{
		UserID:       req.UserID,
		Channel:      req.Channel,
		TemplateType: req.TemplateType,
		Category:     req.Category,
		MaxPerMinute: req.MaxPerMinute,
		MaxPerHour:   req.MaxPerHour,
		MaxPerDay:    req.MaxPerDay,
	}
	if existing != nil {
		policy.ID = existing.ID
		err = h.throttle.UpdatePolicy(c.Request.Context(), policy)
	} else {
		err = h.throttle.CreatePolicy(c.Request.Context(), policy)
	}
	if err != nil {
		h.logger.Error("Set rate limit policy failed",
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save policy"})
		return
	}
	c.JSON(http.StatusOK, policy)
}

func (h *SettingsHandler) SetBatchingRule(c *gin.Context) {
	var req model.BatchingRule
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	if req.Enabled && (req.BatchWindowSeconds <= 0 || req.MinBatchSize <= 0 || req.MaxBatchSize < req.MinBatchSize) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batching rule bounds"})
		return
	}

	if err := h.batches.SaveRule(c.Request.Context(), &req); err != nil {
		h.logger.Error("Save batching rule failed",
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save rule"})
		return
	}
	c.JSON(http.StatusOK, &req)
}
