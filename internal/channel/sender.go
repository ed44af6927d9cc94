package channel

import (
	"context"

	"notification-engine/internal/model"
)

// Payload is the rendered content handed to an outbound transport.
type Payload struct {
	NotificationID string
	UserID         string
	Title          string
	Body           string
	URL            string
	Metadata       map[string]string
}

// Sender is the outbound channel contract. Push and email transports
// live outside the engine; only this interface is consumed.
type Sender interface {
	Send(ctx context.Context, ch model.Channel, address string, p Payload) error
}

// AddressBook resolves a user's delivery address for a channel. When no
// book is configured the user id is passed through and the downstream
// transport owns the mapping.
type AddressBook interface {
	Address(ctx context.Context, userID string, ch model.Channel) (string, error)
}
