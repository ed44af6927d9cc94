package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	contracts "notification-engine/contracts/mq"
	"notification-engine/internal/engine"
	"notification-engine/pkg/metrics"

	"go.uber.org/zap"
)

// retryableError marks infrastructure failures so the consumer requeues
// instead of dead-lettering.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string   { return e.err.Error() }
func (e *retryableError) Unwrap() error   { return e.err }
func (e *retryableError) Retryable() bool { return true }

// EventHandler decodes domain events and feeds them to the
// orchestrator. One handler instance serves all kinds; each consumer
// binds Handle(kind).
type EventHandler struct {
	orchestrator *engine.Orchestrator
	logger       *zap.Logger
}

func NewEventHandler(orchestrator *engine.Orchestrator, logger *zap.Logger) *EventHandler {
	return &EventHandler{orchestrator: orchestrator, logger: logger}
}

// Handle returns the message handler for one event kind. Malformed
// payloads are permanent failures and go to the DLQ; orchestrator
// errors are treated as transient and requeued.
func (h *EventHandler) Handle(kind string) func(ctx context.Context, data json.RawMessage) error {
	return func(ctx context.Context, data json.RawMessage) error {
		event, err := contracts.DecodeEvent(kind, data)
		if err != nil {
			metrics.RecordEventIngest(kind, "malformed")
			return fmt.Errorf("failed to decode %s event: %w", kind, err)
		}

		notifications, err := h.orchestrator.Deliver(ctx, event)
		if err != nil {
			metrics.RecordEventIngest(kind, "failed")
			return &retryableError{err: fmt.Errorf("failed to deliver %s event: %w", kind, err)}
		}

		metrics.RecordEventIngest(kind, "ok")
		h.logger.Debug("Event processed",
			zap.String("kind", kind),
			zap.Int("notifications", len(notifications)),
		)
		return nil
	}
}
