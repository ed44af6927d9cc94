package model

import "time"

type ABTestStatus string

const (
	ABTestStatusDraft     ABTestStatus = "draft"
	ABTestStatusActive    ABTestStatus = "active"
	ABTestStatusCompleted ABTestStatus = "completed"
	ABTestStatusStopped   ABTestStatus = "stopped"
)

// Variant is one candidate content version in an A/B test.
// A weight of zero counts as 1 during selection.
type Variant struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Body   string  `json:"body"`
	Weight float64 `json:"weight"`
}

// ABTest is a content experiment bound to a template.
// Legal transitions: draft->active, active->completed, active->stopped,
// draft->stopped.
type ABTest struct {
	ID             string       `json:"id"`
	TemplateID     string       `json:"template_id"`
	Name           string       `json:"name"`
	Variants       []Variant    `json:"variants"`
	Status         ABTestStatus `json:"status"`
	WinningVariant string       `json:"winning_variant,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

type ABTestEventType string

const (
	ABEventSent      ABTestEventType = "sent"
	ABEventDelivered ABTestEventType = "delivered"
	ABEventRead      ABTestEventType = "read"
	ABEventClicked   ABTestEventType = "clicked"
)

// ABTestEvent is one exposure/outcome fact for a variant. Append-only.
type ABTestEvent struct {
	ID        string          `json:"id"`
	TestID    string          `json:"test_id"`
	VariantID string          `json:"variant_id"`
	UserID    string          `json:"user_id"`
	Event     ABTestEventType `json:"event"`
	CreatedAt time.Time       `json:"created_at"`
}

// VariantMetrics aggregates per-variant funnel counts and rates.
// Rates are ratios of successive funnel stages, zero when the
// denominator is zero.
type VariantMetrics struct {
	VariantID    string                    `json:"variant_id"`
	Counts       map[ABTestEventType]int64 `json:"counts"`
	DeliveryRate float64                   `json:"delivery_rate"`
	ReadRate     float64                   `json:"read_rate"`
	ClickRate    float64                   `json:"click_rate"`
}
