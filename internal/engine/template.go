package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"notification-engine/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var varPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z][a-zA-Z0-9_]*)\s*\}\}`)

// TemplateStore persists templates and their immutable version history.
type TemplateStore interface {
	GetTemplate(ctx context.Context, id string) (*model.Template, error)
	GetTemplateByType(ctx context.Context, templateType string) (*model.Template, error)
	CreateTemplate(ctx context.Context, tpl *model.Template) error
	// AddVersion appends a version row and advances the current pointer
	// in one transaction.
	AddVersion(ctx context.Context, tpl *model.Template) error
	ListVersions(ctx context.Context, id string) ([]model.TemplateVersion, error)
}

// Registry stores versioned notification templates and renders them
// against event data.
type Registry struct {
	store  TemplateStore
	logger *zap.Logger
}

func NewRegistry(store TemplateStore, logger *zap.Logger) *Registry {
	return &Registry{store: store, logger: logger}
}

// Create validates and persists a new template as version 1.
func (r *Registry) Create(ctx context.Context, tpl *model.Template) error {
	if err := validateTemplate(tpl.Title, tpl.Body, tpl.Variables); err != nil {
		return err
	}
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	tpl.CurrentVersion = 1
	if err := r.store.CreateTemplate(ctx, tpl); err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	r.logger.Info("Template created",
		zap.String("template_id", tpl.ID),
		zap.String("type", tpl.Type),
	)
	return nil
}

// Update validates the new content and appends an immutable version.
// History is retained for audit and rollback.
func (r *Registry) Update(ctx context.Context, id, title, body string, variables map[string]bool) (*model.Template, error) {
	if err := validateTemplate(title, body, variables); err != nil {
		return nil, err
	}

	tpl, err := r.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}

	tpl.Title = title
	tpl.Body = body
	tpl.Variables = variables
	tpl.CurrentVersion++
	if err := r.store.AddVersion(ctx, tpl); err != nil {
		return nil, fmt.Errorf("failed to add template version: %w", err)
	}

	r.logger.Info("Template updated",
		zap.String("template_id", tpl.ID),
		zap.Int("version", tpl.CurrentVersion),
	)
	return tpl, nil
}

// Render renders the current version of a template against data.
// Required variables must be present; referenced variables must be
// declared.
func (r *Registry) Render(ctx context.Context, templateID string, data map[string]string) (model.RenderedMessage, error) {
	tpl, err := r.store.GetTemplate(ctx, templateID)
	if err != nil {
		return model.RenderedMessage{}, fmt.Errorf("failed to load template: %w", err)
	}
	return renderContent(tpl, tpl.Title, tpl.Body, data)
}

// RenderByType renders the active template bound to an event kind's
// template type.
func (r *Registry) RenderByType(ctx context.Context, templateType string, data map[string]string) (model.RenderedMessage, *model.Template, error) {
	tpl, err := r.store.GetTemplateByType(ctx, templateType)
	if err != nil {
		return model.RenderedMessage{}, nil, fmt.Errorf("failed to load template for type %s: %w", templateType, err)
	}
	msg, err := renderContent(tpl, tpl.Title, tpl.Body, data)
	if err != nil {
		return model.RenderedMessage{}, nil, err
	}
	return msg, tpl, nil
}

// RenderVariant renders A/B variant content under the template's
// declared variables.
func (r *Registry) RenderVariant(tpl *model.Template, variant model.Variant, data map[string]string) (model.RenderedMessage, error) {
	return renderContent(tpl, variant.Title, variant.Body, data)
}

// Get loads a template with its current content.
func (r *Registry) Get(ctx context.Context, id string) (*model.Template, error) {
	return r.store.GetTemplate(ctx, id)
}

// GetByType loads the template bound to a template type.
func (r *Registry) GetByType(ctx context.Context, templateType string) (*model.Template, error) {
	return r.store.GetTemplateByType(ctx, templateType)
}

// Versions returns the immutable version history.
func (r *Registry) Versions(ctx context.Context, id string) ([]model.TemplateVersion, error) {
	return r.store.ListVersions(ctx, id)
}

func renderContent(tpl *model.Template, title, body string, data map[string]string) (model.RenderedMessage, error) {
	if !tpl.IsActive {
		return model.RenderedMessage{}, &InvalidTemplateError{Reason: fmt.Sprintf("template %s is inactive", tpl.ID)}
	}

	// Required variables must be present in the data.
	for name, required := range tpl.Variables {
		if !required {
			continue
		}
		if _, ok := data[name]; !ok {
			return model.RenderedMessage{}, &MissingVariableError{Variable: name}
		}
	}

	render := func(expr string) (string, error) {
		var missing error
		out := varPattern.ReplaceAllStringFunc(expr, func(ref string) string {
			name := varPattern.FindStringSubmatch(ref)[1]
			if _, declared := tpl.Variables[name]; !declared {
				if missing == nil {
					missing = &InvalidTemplateError{Reason: fmt.Sprintf("undeclared variable %s referenced", name)}
				}
				return ref
			}
			return data[name]
		})
		return out, missing
	}

	renderedTitle, err := render(title)
	if err != nil {
		return model.RenderedMessage{}, err
	}
	renderedBody, err := render(body)
	if err != nil {
		return model.RenderedMessage{}, err
	}

	return model.RenderedMessage{
		Title:    renderedTitle,
		Body:     renderedBody,
		Metadata: tpl.Metadata,
	}, nil
}

// validateTemplate checks expression syntax and variable coverage before
// any content is committed.
func validateTemplate(title, body string, variables map[string]bool) error {
	if strings.TrimSpace(title) == "" {
		return &InvalidTemplateError{Reason: "title expression is empty"}
	}
	if strings.TrimSpace(body) == "" {
		return &InvalidTemplateError{Reason: "body expression is empty"}
	}

	for _, expr := range []string{title, body} {
		if strings.Count(expr, "{{") != strings.Count(expr, "}}") {
			return &InvalidTemplateError{Reason: "unbalanced variable delimiters"}
		}
		for _, m := range varPattern.FindAllStringSubmatch(expr, -1) {
			if _, ok := variables[m[1]]; !ok {
				return &InvalidTemplateError{Reason: fmt.Sprintf("undeclared variable %s referenced", m[1])}
			}
		}
	}
	return nil
}
