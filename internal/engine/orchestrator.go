package engine

import (
	"context"
	"fmt"
	"strings"

	mqcontracts "notification-engine/contracts/mq"
	"notification-engine/internal/catalog"
	"notification-engine/internal/channel"
	"notification-engine/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NotificationStore persists user-facing notification records. Insert
// assigns GroupOrder atomically within the notification's group.
type NotificationStore interface {
	InsertNotification(ctx context.Context, n *model.Notification) error
	GetNotification(ctx context.Context, id string) (*model.Notification, error)
	GetNotifications(ctx context.Context, ids []string) ([]model.Notification, error)
	MarkRead(ctx context.Context, id string) error
	MarkDismissed(ctx context.Context, id string) error
}

// Orchestrator composes the gate, limiter, selector, registry, batcher
// and tracker into the end-to-end delivery path. It implements
// DigestSink for the Batcher and ScheduledDeliverer for the Scheduler.
type Orchestrator struct {
	catalog   *catalog.Catalog
	gate      *Gate
	limiter   *RateLimiter
	selector  *Selector
	registry  *Registry
	batcher   *Batcher
	tracker   *Tracker
	notifs    NotificationStore
	sender    channel.Sender
	addresses channel.AddressBook
	logger    *zap.Logger
}

func NewOrchestrator(
	cat *catalog.Catalog,
	gate *Gate,
	limiter *RateLimiter,
	selector *Selector,
	registry *Registry,
	batcher *Batcher,
	tracker *Tracker,
	notifs NotificationStore,
	sender channel.Sender,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		catalog:  cat,
		gate:     gate,
		limiter:  limiter,
		selector: selector,
		registry: registry,
		batcher:  batcher,
		tracker:  tracker,
		notifs:   notifs,
		sender:   sender,
		logger:   logger,
	}
}

// SetAddressBook wires an optional per-channel address resolver. When
// unset, the user id is passed through to the transport.
func (o *Orchestrator) SetAddressBook(book channel.AddressBook) {
	o.addresses = book
}

// outbound carries one rendered notification through the pipeline.
type outbound struct {
	userID    string
	tplType   string
	category  string
	priority  model.Priority
	groupID   string
	msg       model.RenderedMessage
	metadata  map[string]string
	testID    string
	variantID string
	// skipBatch prevents digest notifications from re-entering the
	// aggregator.
	skipBatch bool
}

// Deliver turns one domain event into zero or more delivered
// notifications. Per-recipient and per-channel failures are recorded
// and logged, never propagated: partial success is the expected
// outcome under load or partial channel outage.
func (o *Orchestrator) Deliver(ctx context.Context, event mqcontracts.Event) ([]model.Notification, error) {
	entry, err := o.catalog.Lookup(event.Kind())
	if err != nil {
		return nil, err
	}

	data := event.TemplateData()
	recipients := dedupe(event.RecipientIDs(), event.ActorID())

	var delivered []model.Notification
	for _, userID := range recipients {
		n, err := o.deliverToUser(ctx, userID, entry, data)
		if err != nil {
			o.logger.Warn("Delivery skipped",
				zap.String("user_id", userID),
				zap.String("event_kind", event.Kind()),
				zap.Error(err),
			)
			continue
		}
		if n != nil {
			delivered = append(delivered, *n)
		}
	}

	o.logger.Info("Event delivered",
		zap.String("event_kind", event.Kind()),
		zap.Int("recipients", len(recipients)),
		zap.Int("notifications", len(delivered)),
	)
	return delivered, nil
}

func (o *Orchestrator) deliverToUser(ctx context.Context, userID string, entry catalog.Entry, data map[string]string) (*model.Notification, error) {
	msg, tpl, err := o.registry.RenderByType(ctx, entry.TemplateType, data)
	if err != nil {
		return nil, err
	}

	ob := outbound{
		userID:   userID,
		tplType:  entry.TemplateType,
		category: entry.Category,
		priority: entry.Priority,
		msg:      msg,
		metadata: map[string]string{},
	}
	if entry.GroupBy != "" && data[entry.GroupBy] != "" {
		ob.groupID = fmt.Sprintf("%s:%s", entry.Category, data[entry.GroupBy])
	}

	// An active experiment replaces the template content for this send.
	test, err := o.selector.ActiveForTemplate(ctx, tpl.ID)
	if err != nil {
		o.logger.Warn("A/B lookup failed, using template content", zap.Error(err))
	} else if test != nil {
		variant, err := o.selector.SelectVariant(ctx, test.ID, userID)
		if err == nil {
			if vmsg, verr := o.registry.RenderVariant(tpl, variant, data); verr == nil {
				ob.msg = vmsg
				ob.testID = test.ID
				ob.variantID = variant.ID
			} else {
				o.logger.Warn("Variant render failed, using template content", zap.Error(verr))
			}
		}
	}

	return o.dispatch(ctx, ob)
}

// dispatch runs one outbound notification through the gate, limiter,
// persistence, batching and channel fan-out.
func (o *Orchestrator) dispatch(ctx context.Context, ob outbound) (*model.Notification, error) {
	allowed, err := o.gate.ShouldSend(ctx, ob.userID, ob.tplType, model.ChannelApp)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, nil
	}

	decision, err := o.limiter.Check(ctx, ob.userID, model.ChannelApp, ob.tplType, ob.category)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &RateLimitExceededError{Window: decision.Reason, NextAllowedAt: *decision.NextAllowedAt}
	}

	n := &model.Notification{
		ID:       uuid.NewString(),
		UserID:   ob.userID,
		Type:     ob.tplType,
		Category: ob.category,
		Priority: ob.priority,
		Title:    ob.msg.Title,
		Message:  ob.msg.Body,
		GroupID:  ob.groupID,
		Metadata: ob.metadata,
	}
	if n.Metadata == nil {
		n.Metadata = map[string]string{}
	}
	for k, v := range ob.msg.Metadata {
		if _, exists := n.Metadata[k]; !exists {
			n.Metadata[k] = v
		}
	}
	if ob.testID != "" {
		n.Metadata["ab_test_id"] = ob.testID
		n.Metadata["ab_variant_id"] = ob.variantID
	}

	if err := o.notifs.InsertNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to persist notification: %w", err)
	}

	// The in-app record is the first delivery; channel failures later
	// never roll it back.
	if err := o.tracker.Record(ctx, n.ID, n.UserID, model.ChannelApp, model.DeliveryStatusSent, nil, nil); err != nil {
		o.logger.Error("Failed to record in-app delivery", zap.Error(err))
	}
	if err := o.limiter.TrackSent(ctx, n.UserID, model.ChannelApp, n.Type, n.Category); err != nil {
		o.logger.Error("Failed to track send", zap.Error(err))
	}
	if ob.testID != "" {
		if err := o.selector.TrackEvent(ctx, ob.testID, ob.variantID, n.UserID, model.ABEventSent); err != nil {
			o.logger.Error("Failed to track a/b exposure", zap.Error(err))
		}
	}

	if !ob.skipBatch {
		if freq, err := o.gate.Digest(ctx, n.UserID, n.Type); err == nil && freq != model.DigestImmediate {
			if err := o.batcher.EnqueueDigest(ctx, n, freq); err != nil {
				o.logger.Error("Digest enqueue failed, sending immediately", zap.Error(err))
			} else {
				return n, nil
			}
		}

		admitted, err := o.batcher.Enqueue(ctx, n)
		if err != nil {
			o.logger.Error("Batch enqueue failed, sending immediately", zap.Error(err))
		} else if admitted {
			// The batch sweep emits later.
			return n, nil
		}
	}

	o.sendChannels(ctx, n)
	return n, nil
}

// sendChannels fans a persisted notification out to push and email.
// Channels are independent: a failure on one is recorded and never
// aborts the other.
func (o *Orchestrator) sendChannels(ctx context.Context, n *model.Notification) {
	for _, ch := range []model.Channel{model.ChannelEmail, model.ChannelPush} {
		allowed, err := o.gate.ShouldSend(ctx, n.UserID, n.Type, ch)
		if err != nil {
			o.logger.Error("Preference check failed",
				zap.String("channel", string(ch)),
				zap.Error(err),
			)
			continue
		}
		if !allowed {
			continue
		}

		decision, err := o.limiter.Check(ctx, n.UserID, ch, n.Type, n.Category)
		if err != nil || !decision.Allowed {
			if err != nil {
				o.logger.Error("Rate check failed", zap.Error(err))
			}
			continue
		}

		address := n.UserID
		if o.addresses != nil {
			if a, err := o.addresses.Address(ctx, n.UserID, ch); err == nil {
				address = a
			}
		}

		payload := channel.Payload{
			NotificationID: n.ID,
			UserID:         n.UserID,
			Title:          n.Title,
			Body:           n.Message,
			URL:            n.Metadata["url"],
			Metadata:       n.Metadata,
		}

		if err := o.sender.Send(ctx, ch, address, payload); err != nil {
			chErr := &ChannelDeliveryError{Channel: string(ch), Err: err}
			if recErr := o.tracker.Record(ctx, n.ID, n.UserID, ch, model.DeliveryStatusFailed, chErr, nil); recErr != nil {
				o.logger.Error("Failed to record failed delivery", zap.Error(recErr))
			}
			continue
		}

		if err := o.tracker.Record(ctx, n.ID, n.UserID, ch, model.DeliveryStatusSent, nil, nil); err != nil {
			o.logger.Error("Failed to record delivery", zap.Error(err))
		}
		if err := o.limiter.TrackSent(ctx, n.UserID, ch, n.Type, n.Category); err != nil {
			o.logger.Error("Failed to track send", zap.Error(err))
		}
		if testID := n.Metadata["ab_test_id"]; testID != "" {
			if err := o.selector.TrackEvent(ctx, testID, n.Metadata["ab_variant_id"], n.UserID, model.ABEventDelivered); err != nil {
				o.logger.Error("Failed to track a/b delivery", zap.Error(err))
			}
		}
	}
}

// EmitDigest combines a due batch into one digest notification and
// pushes it through the same delivery path. The digest itself is
// re-checked against the rate limiter.
func (o *Orchestrator) EmitDigest(ctx context.Context, batch *model.NotificationBatch) error {
	members, err := o.notifs.GetNotifications(ctx, batch.NotificationIDs)
	if err != nil {
		return fmt.Errorf("failed to load batch members: %w", err)
	}
	if len(members) == 0 {
		return fmt.Errorf("batch %s has no members", batch.ID)
	}

	titles := make([]string, 0, len(members))
	for _, m := range members {
		titles = append(titles, m.Title)
	}

	ob := outbound{
		userID:   batch.UserID,
		tplType:  batch.TemplateType,
		category: batch.Category,
		priority: batch.Priority,
		groupID:  batch.GroupID,
		msg: model.RenderedMessage{
			Title: fmt.Sprintf("%d new %s notifications", len(members), batch.Category),
			Body:  strings.Join(titles, "\n"),
		},
		metadata: map[string]string{
			"batch_id":         batch.ID,
			"notification_ids": strings.Join(batch.NotificationIDs, ","),
			"batch_count":      fmt.Sprintf("%d", len(members)),
		},
		skipBatch: true,
	}

	if _, err := o.dispatch(ctx, ob); err != nil {
		return err
	}
	return nil
}

// SendIndividually is the under-minimum and digest-failure fallback:
// every member goes out through the normal channel fan-out. The in-app
// records already exist from creation time.
func (o *Orchestrator) SendIndividually(ctx context.Context, batch *model.NotificationBatch) error {
	members, err := o.notifs.GetNotifications(ctx, batch.NotificationIDs)
	if err != nil {
		return fmt.Errorf("failed to load batch members: %w", err)
	}
	for i := range members {
		o.sendChannels(ctx, &members[i])
	}
	return nil
}

// DeliverScheduled promotes a due schedule through the notification
// path for every resolved recipient.
func (o *Orchestrator) DeliverScheduled(ctx context.Context, s *model.ScheduledNotification, recipients []string) error {
	tpl, err := o.registry.Get(ctx, s.TemplateID)
	if err != nil {
		return fmt.Errorf("failed to load schedule template: %w", err)
	}

	msg, err := o.registry.Render(ctx, s.TemplateID, s.Data)
	if err != nil {
		return err
	}

	category := tpl.Metadata["category"]
	if category == "" {
		category = "scheduled"
	}

	for _, userID := range recipients {
		ob := outbound{
			userID:   userID,
			tplType:  tpl.Type,
			category: category,
			priority: model.PriorityNormal,
			msg:      msg,
			metadata: map[string]string{"schedule_id": s.ID},
		}
		if _, err := o.dispatch(ctx, ob); err != nil {
			o.logger.Warn("Scheduled delivery skipped",
				zap.String("schedule_id", s.ID),
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// MarkRead flags a notification read and appends the matching delivery
// and experiment facts.
func (o *Orchestrator) MarkRead(ctx context.Context, id string) error {
	n, err := o.notifs.GetNotification(ctx, id)
	if err != nil {
		return err
	}
	if err := o.notifs.MarkRead(ctx, id); err != nil {
		return err
	}
	if testID := n.Metadata["ab_test_id"]; testID != "" {
		if err := o.selector.TrackEvent(ctx, testID, n.Metadata["ab_variant_id"], n.UserID, model.ABEventRead); err != nil {
			o.logger.Error("Failed to track a/b read", zap.Error(err))
		}
	}
	return nil
}

// MarkDismissed flags a notification dismissed and records the fact.
func (o *Orchestrator) MarkDismissed(ctx context.Context, id string) error {
	n, err := o.notifs.GetNotification(ctx, id)
	if err != nil {
		return err
	}
	if err := o.notifs.MarkDismissed(ctx, id); err != nil {
		return err
	}
	return o.tracker.Record(ctx, n.ID, n.UserID, model.ChannelApp, model.DeliveryStatusDismissed, nil, nil)
}

// TrackDelivered records a transport confirmation for a channel send.
// Confirmations arrive out of band from the push and email workers.
func (o *Orchestrator) TrackDelivered(ctx context.Context, id string, ch model.Channel) error {
	n, err := o.notifs.GetNotification(ctx, id)
	if err != nil {
		return err
	}
	return o.tracker.Record(ctx, n.ID, n.UserID, ch, model.DeliveryStatusDelivered, nil, nil)
}

// TrackClick records a click outcome for a delivered notification.
func (o *Orchestrator) TrackClick(ctx context.Context, id string, ch model.Channel) error {
	n, err := o.notifs.GetNotification(ctx, id)
	if err != nil {
		return err
	}
	if err := o.tracker.Record(ctx, n.ID, n.UserID, ch, model.DeliveryStatusClicked, nil, nil); err != nil {
		return err
	}
	if testID := n.Metadata["ab_test_id"]; testID != "" {
		if err := o.selector.TrackEvent(ctx, testID, n.Metadata["ab_variant_id"], n.UserID, model.ABEventClicked); err != nil {
			o.logger.Error("Failed to track a/b click", zap.Error(err))
		}
	}
	return nil
}

func dedupe(ids []string, exclude string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == exclude {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
