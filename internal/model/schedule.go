package model

import "time"

type ScheduleType string

const (
	ScheduleOneTime   ScheduleType = "one_time"
	ScheduleRecurring ScheduleType = "recurring"
)

type RecurrenceType string

const (
	RecurrenceDaily   RecurrenceType = "daily"
	RecurrenceWeekly  RecurrenceType = "weekly"
	RecurrenceMonthly RecurrenceType = "monthly"
)

type ScheduleStatus string

const (
	ScheduleStatusPending    ScheduleStatus = "pending"
	ScheduleStatusProcessing ScheduleStatus = "processing"
	ScheduleStatusCompleted  ScheduleStatus = "completed"
	ScheduleStatusFailed     ScheduleStatus = "failed"
)

// ScheduleConfig describes when a scheduled notification runs.
// One-time schedules use SendAt; recurring schedules combine TimeOfDay
// ("15:04") with the recurrence rule, evaluated in Timezone.
type ScheduleConfig struct {
	Type       ScheduleType   `json:"type" yaml:"type"`
	SendAt     *time.Time     `json:"send_at,omitempty"`
	TimeOfDay  string         `json:"time_of_day,omitempty"`
	Timezone   string         `json:"timezone,omitempty"`
	Recurrence RecurrenceType `json:"recurrence,omitempty"`
	// Weekdays holds time.Weekday values (0=Sunday) for weekly schedules.
	Weekdays []int `json:"weekdays,omitempty"`
	// MonthDays holds days of month (1-31) for monthly schedules.
	MonthDays []int      `json:"month_days,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// Recipients is either an explicit user id list or a selection criterion
// (e.g. "project:<id>") resolved at promotion time.
type Recipients struct {
	UserIDs  []string `json:"user_ids,omitempty"`
	Audience string   `json:"audience,omitempty"`
}

// ScheduledNotification is a future or recurring delivery instruction.
// Recurring instances loop pending -> processing -> pending; one-time
// instances terminate at completed or failed.
type ScheduledNotification struct {
	ID         string            `json:"id"`
	TemplateID string            `json:"template_id"`
	Recipients Recipients        `json:"recipients"`
	Config     ScheduleConfig    `json:"config"`
	Data       map[string]string `json:"data,omitempty"`
	Status     ScheduleStatus    `json:"status"`
	NextRunAt  time.Time         `json:"next_run_at"`
	LastRunAt  *time.Time        `json:"last_run_at,omitempty"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
