package model

import "time"

type DeliveryStatus string

const (
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusClicked   DeliveryStatus = "clicked"
	DeliveryStatusDismissed DeliveryStatus = "dismissed"
)

// DeliveryRecord is one immutable fact: notification X attempted on
// channel Y reached status Z at time T. Records are append-only;
// several accumulate per notification as its status evolves.
type DeliveryRecord struct {
	ID             string            `json:"id"`
	NotificationID string            `json:"notification_id"`
	UserID         string            `json:"user_id"`
	Channel        Channel           `json:"channel"`
	Status         DeliveryStatus    `json:"status"`
	Error          string            `json:"error,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// DeliveryAnalytics aggregates delivery records over a time range.
type DeliveryAnalytics struct {
	Total        int64                    `json:"total"`
	ByChannel    map[Channel]int64        `json:"by_channel"`
	ByStatus     map[DeliveryStatus]int64 `json:"by_status"`
	FailureRates map[Channel]float64      `json:"failure_rates"`
	ClickRate    float64                  `json:"click_rate"`
}
