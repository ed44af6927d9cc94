package channel

import (
	"context"
	"fmt"

	"notification-engine/internal/model"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerSender wraps a Sender with one circuit breaker per channel so
// a failing transport sheds load quickly. An open breaker fails the
// send immediately; the caller records it like any other failure.
type BreakerSender struct {
	inner    Sender
	breakers map[model.Channel]*gobreaker.CircuitBreaker
}

func NewBreakerSender(inner Sender, logger *zap.Logger) *BreakerSender {
	breakers := make(map[model.Channel]*gobreaker.CircuitBreaker, 2)
	for _, ch := range []model.Channel{model.ChannelPush, model.ChannelEmail} {
		ch := ch
		breakers[ch] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        fmt.Sprintf("sender-%s", ch),
			MaxRequests: 3,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Channel breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}
	return &BreakerSender{inner: inner, breakers: breakers}
}

func (b *BreakerSender) Send(ctx context.Context, ch model.Channel, address string, p Payload) error {
	cb, ok := b.breakers[ch]
	if !ok {
		return b.inner.Send(ctx, ch, address, p)
	}

	_, err := cb.Execute(func() (any, error) {
		return nil, b.inner.Send(ctx, ch, address, p)
	})
	return err
}
