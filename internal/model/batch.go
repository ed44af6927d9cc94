package model

import "time"

// BatchingRule controls whether and how a (user, templateType?, category?)
// key batches. Rules are matched by specificity: exact > type-only >
// category-only > global.
type BatchingRule struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	TemplateType       string    `json:"template_type,omitempty"`
	Category           string    `json:"category,omitempty"`
	Enabled            bool      `json:"enabled"`
	BatchWindowSeconds int       `json:"batch_window_seconds"`
	MinBatchSize       int       `json:"min_batch_size"`
	MaxBatchSize       int       `json:"max_batch_size"`
	CreatedAt          time.Time `json:"created_at"`
}

type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusSent       BatchStatus = "sent"
	BatchStatusFailed     BatchStatus = "failed"
)

// NotificationBatch is an in-flight aggregation of notifications awaiting
// a combined send. Min/MaxSize snapshot the matched rule at creation so
// the sweep does not depend on rule lookups.
type NotificationBatch struct {
	ID              string      `json:"id"`
	UserID          string      `json:"user_id"`
	TemplateType    string      `json:"template_type"`
	Category        string      `json:"category"`
	GroupID         string      `json:"group_id,omitempty"`
	Priority        Priority    `json:"priority"`
	Status          BatchStatus `json:"status"`
	// Digest marks batches opened by a digest-frequency preference
	// rather than a batching rule; they sweep on their own cadence.
	Digest          bool        `json:"digest,omitempty"`
	Count           int         `json:"count"`
	MinSize         int         `json:"min_size"`
	MaxSize         int         `json:"max_size"`
	NotificationIDs []string    `json:"notification_ids"`
	ScheduledFor    time.Time   `json:"scheduled_for"`
	Error           string      `json:"error,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// Due reports whether the batch should be processed by the sweep.
func (b *NotificationBatch) Due(now time.Time) bool {
	return !now.Before(b.ScheduledFor) || b.Count >= b.MaxSize
}
