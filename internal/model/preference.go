package model

import "time"

type DigestFrequency string

const (
	DigestImmediate DigestFrequency = "immediate"
	DigestHourly    DigestFrequency = "hourly"
	DigestDaily     DigestFrequency = "daily"
)

// ScheduleWindow is one allowed delivery window ("quiet hours" are the
// complement). Start and End are "15:04" clock times in Timezone; a
// window with End before Start spans midnight. Days, when set, holds
// time.Weekday values the window applies to.
type ScheduleWindow struct {
	Start    string `json:"start" yaml:"start"`
	End      string `json:"end" yaml:"end"`
	Days     []int  `json:"days,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// Preference is the per-user delivery policy for a template type.
// Created with defaults on first access.
type Preference struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	TemplateType string           `json:"template_type"`
	Enabled      bool             `json:"enabled"`
	AppEnabled   bool             `json:"app_enabled"`
	EmailEnabled bool             `json:"email_enabled"`
	PushEnabled  bool             `json:"push_enabled"`
	Windows      []ScheduleWindow `json:"windows,omitempty"`
	Digest       DigestFrequency  `json:"digest"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}
