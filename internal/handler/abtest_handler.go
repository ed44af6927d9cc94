package handler

import (
	"errors"
	"net/http"

	"notification-engine/internal/engine"
	"notification-engine/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type ABTestHandler struct {
	selector *engine.Selector
	logger   *zap.Logger
}

func NewABTestHandler(selector *engine.Selector, logger *zap.Logger) *ABTestHandler {
	return &ABTestHandler{selector: selector, logger: logger}
}

func (h *ABTestHandler) Create(c *gin.Context) {
	var req struct {
		TemplateID string          `json:"template_id" binding:"required"`
		Name       string          `json:"name" binding:"required"`
		Variants   []model.Variant `json:"variants" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	test := &model.ABTest{
		TemplateID: req.TemplateID,
		Name:       req.Name,
		Variants:   req.Variants,
	}
	if err := h.selector.CreateTest(c.Request.Context(), test); err != nil {
		h.logger.Warn("Create a/b test rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, test)
}

// UpdateStatus drives the experiment lifecycle:
// draft -> active -> completed | stopped.
func (h *ABTestHandler) UpdateStatus(c *gin.Context) {
	var req struct {
		Status         model.ABTestStatus `json:"status" binding:"required"`
		WinningVariant string             `json:"winning_variant"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	test, err := h.selector.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status, req.WinningVariant)
	if err != nil {
		var transition *engine.InvalidStatusTransitionError
		if errors.As(err, &transition) {
			c.JSON(http.StatusConflict, gin.H{"error": transition.Error()})
			return
		}
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "a/b test not found"})
			return
		}
		h.logger.Error("Update a/b status failed",
			zap.String("test_id", c.Param("id")),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update a/b test"})
		return
	}
	c.JSON(http.StatusOK, test)
}

func (h *ABTestHandler) Metrics(c *gin.Context) {
	metrics, err := h.selector.Metrics(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "a/b test not found"})
			return
		}
		h.logger.Error("A/B metrics failed",
			zap.String("test_id", c.Param("id")),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"variants": metrics})
}
