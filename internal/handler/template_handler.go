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

type TemplateHandler struct {
	registry *engine.Registry
	logger   *zap.Logger
}

func NewTemplateHandler(registry *engine.Registry, logger *zap.Logger) *TemplateHandler {
	return &TemplateHandler{registry: registry, logger: logger}
}

func (h *TemplateHandler) Create(c *gin.Context) {
	var req struct {
		Type      string            `json:"type" binding:"required"`
		Title     string            `json:"title" binding:"required"`
		Body      string            `json:"body" binding:"required"`
		Variables map[string]bool   `json:"variables"`
		Metadata  map[string]string `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tpl := &model.Template{
		Type:      req.Type,
		Title:     req.Title,
		Body:      req.Body,
		Variables: req.Variables,
		Metadata:  req.Metadata,
		IsActive:  true,
	}
	if err := h.registry.Create(c.Request.Context(), tpl); err != nil {
		var invalid *engine.InvalidTemplateError
		if errors.As(err, &invalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": invalid.Error()})
			return
		}
		h.logger.Error("Create template failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create template"})
		return
	}
	c.JSON(http.StatusCreated, tpl)
}

func (h *TemplateHandler) Get(c *gin.Context) {
	tpl, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "template not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch template"})
		return
	}
	c.JSON(http.StatusOK, tpl)
}

func (h *TemplateHandler) Update(c *gin.Context) {
	var req struct {
		Title     string          `json:"title" binding:"required"`
		Body      string          `json:"body" binding:"required"`
		Variables map[string]bool `json:"variables"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tpl, err := h.registry.Update(c.Request.Context(), c.Param("id"), req.Title, req.Body, req.Variables)
	if err != nil {
		var invalid *engine.InvalidTemplateError
		if errors.As(err, &invalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": invalid.Error()})
			return
		}
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "template not found"})
			return
		}
		h.logger.Error("Update template failed",
			zap.String("template_id", c.Param("id")),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update template"})
		return
	}
	c.JSON(http.StatusOK, tpl)
}

func (h *TemplateHandler) Versions(c *gin.Context) {
	versions, err := h.registry.Versions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("List versions failed",
			zap.String("template_id", c.Param("id")),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch versions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}
