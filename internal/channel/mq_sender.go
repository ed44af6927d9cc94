package channel

import (
	"context"
	"fmt"
	"time"

	mqcontracts "notification-engine/contracts/mq"
	"notification-engine/internal/model"
	"notification-engine/pkg/metrics"
	"notification-engine/pkg/mq"

	"go.uber.org/zap"
)

// MQSender hands rendered notifications to the external push/email
// transports over the message bus. Each send is bounded by timeout; a
// slow broker is recorded as a failure, not waited on.
type MQSender struct {
	publisher *mq.Publisher
	timeout   time.Duration
	logger    *zap.Logger
}

func NewMQSender(publisher *mq.Publisher, timeout time.Duration, logger *zap.Logger) *MQSender {
	return &MQSender{publisher: publisher, timeout: timeout, logger: logger}
}

func (s *MQSender) Send(ctx context.Context, ch model.Channel, address string, p Payload) error {
	routingKey, err := routingKeyFor(ch)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload := mqcontracts.ChannelDispatchPayload{
		NotificationID: p.NotificationID,
		UserID:         p.UserID,
		Channel:        string(ch),
		Address:        address,
		Title:          p.Title,
		Body:           p.Body,
		URL:            p.URL,
		Metadata:       p.Metadata,
		CreatedAt:      time.Now(),
	}

	start := time.Now()
	err = s.publisher.Publish(sendCtx, routingKey, payload)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordSenderLatency(string(ch), status, time.Since(start))

	if err != nil {
		s.logger.Error("Channel dispatch failed",
			zap.String("channel", string(ch)),
			zap.String("notification_id", p.NotificationID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to dispatch %s notification: %w", ch, err)
	}
	return nil
}

func routingKeyFor(ch model.Channel) (string, error) {
	switch ch {
	case model.ChannelPush:
		return mqcontracts.RoutingKeyPushDispatch, nil
	case model.ChannelEmail:
		return mqcontracts.RoutingKeyEmailDispatch, nil
	default:
		return "", fmt.Errorf("channel %s has no outbound transport", ch)
	}
}
