package model

import "time"

type Channel string

const (
	ChannelApp   Channel = "app"
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Notification is a persisted, user-facing message instance. Content is
// never mutated after creation; only read/dismissed flags change.
type Notification struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	Type       string            `json:"type"`
	Category   string            `json:"category"`
	Priority   Priority          `json:"priority"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	GroupID    string            `json:"group_id,omitempty"`
	GroupOrder int               `json:"group_order,omitempty"`
	Read       bool              `json:"read"`
	Dismissed  bool              `json:"dismissed"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
