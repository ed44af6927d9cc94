package model

import "time"

// Template is a versioned message definition. Content edits never mutate
// a version in place: each edit appends a TemplateVersion row and
// advances CurrentVersion.
type Template struct {
	ID             string            `json:"id"`
	Type           string            `json:"type"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	Variables      map[string]bool   `json:"variables"` // name -> required
	Metadata       map[string]string `json:"metadata,omitempty"`
	IsActive       bool              `json:"is_active"`
	CurrentVersion int               `json:"current_version"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// TemplateVersion is one immutable content revision, retained for
// audit and rollback.
type TemplateVersion struct {
	TemplateID string          `json:"template_id"`
	Version    int             `json:"version"`
	Title      string          `json:"title"`
	Body       string          `json:"body"`
	Variables  map[string]bool `json:"variables"`
	CreatedAt  time.Time       `json:"created_at"`
}

// RenderedMessage is the output of rendering a template against event data.
type RenderedMessage struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
