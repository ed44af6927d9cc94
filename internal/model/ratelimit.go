package model

import "time"

type WindowType string

const (
	WindowMinute WindowType = "minute"
	WindowHour   WindowType = "hour"
	WindowDay    WindowType = "day"
)

// RateLimitPolicy caps sends for a (user, channel, templateType?, category?)
// key. Policies are created lazily with defaults on first use.
type RateLimitPolicy struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Channel      Channel   `json:"channel"`
	TemplateType string    `json:"template_type,omitempty"`
	Category     string    `json:"category,omitempty"`
	MaxPerMinute int       `json:"max_per_minute"`
	MaxPerHour   int       `json:"max_per_hour"`
	MaxPerDay    int       `json:"max_per_day"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MaxFor returns the cap for one window granularity.
func (p *RateLimitPolicy) MaxFor(wt WindowType) int {
	switch wt {
	case WindowMinute:
		return p.MaxPerMinute
	case WindowHour:
		return p.MaxPerHour
	default:
		return p.MaxPerDay
	}
}

// ThrottleWindow counts sends for one policy key in one fixed time slice.
// A window whose end has passed is stale and never reused.
type ThrottleWindow struct {
	PolicyKey   string     `json:"policy_key"`
	WindowType  WindowType `json:"window_type"`
	WindowStart time.Time  `json:"window_start"`
	WindowEnd   time.Time  `json:"window_end"`
	Count       int        `json:"count"`
}

// RateLimitDecision is the outcome of a pure rate-limit check.
type RateLimitDecision struct {
	Allowed       bool       `json:"allowed"`
	Reason        string     `json:"reason,omitempty"`
	NextAllowedAt *time.Time `json:"next_allowed_at,omitempty"`
}
