package mq

import "time"

// Dispatch routing keys for outbound channel transports.
const (
	RoutingKeyPushDispatch  = "channel.push.dispatch"
	RoutingKeyEmailDispatch = "channel.email.dispatch"
)

// ChannelDispatchPayload hands a rendered notification to an external
// push or email transport. The engine never embeds transport details.
type ChannelDispatchPayload struct {
	NotificationID string            `json:"notification_id"`
	UserID         string            `json:"user_id"`
	Channel        string            `json:"channel"`
	Address        string            `json:"address"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	URL            string            `json:"url,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}
