package engine

import (
	"context"
	"fmt"
	"time"

	"notification-engine/internal/model"
	"notification-engine/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ScheduleStore persists delivery instructions. Claim must be an atomic
// conditional update (pending -> processing); rows claimed by another
// sweep are skipped.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, s *model.ScheduledNotification) error
	GetSchedule(ctx context.Context, id string) (*model.ScheduledNotification, error)
	UpdateSchedule(ctx context.Context, s *model.ScheduledNotification) error
	DeleteSchedule(ctx context.Context, id string) error
	ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]model.ScheduledNotification, error)
	ClaimSchedule(ctx context.Context, id string) (bool, error)
	FinishSchedule(ctx context.Context, id string, status model.ScheduleStatus, nextRunAt *time.Time, lastRunAt time.Time, errMsg string) error
}

// ScheduledDeliverer pushes a due schedule through the normal
// notification-entry path. Implemented by the Orchestrator.
type ScheduledDeliverer interface {
	DeliverScheduled(ctx context.Context, s *model.ScheduledNotification, recipients []string) error
}

// RecipientResolver expands an audience criterion (e.g. "project:<id>")
// into user ids at promotion time.
type RecipientResolver interface {
	Resolve(ctx context.Context, audience string) ([]string, error)
}

// Scheduler computes and tracks run times for one-time and recurring
// notification schedules.
type Scheduler struct {
	store     ScheduleStore
	resolver  RecipientResolver
	deliverer ScheduledDeliverer
	logger    *zap.Logger
	now       func() time.Time
}

func NewScheduler(store ScheduleStore, resolver RecipientResolver, logger *zap.Logger) *Scheduler {
	return &Scheduler{store: store, resolver: resolver, logger: logger, now: time.Now}
}

// SetDeliverer wires the promotion sink. Set once at boot; the
// scheduler and orchestrator reference each other.
func (s *Scheduler) SetDeliverer(d ScheduledDeliverer) {
	s.deliverer = d
}

// CreateSchedule validates the config, computes the first run and
// persists the instruction as pending.
func (s *Scheduler) CreateSchedule(ctx context.Context, sched *model.ScheduledNotification) error {
	next, err := NextRun(sched.Config, s.now())
	if err != nil {
		return err
	}
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	sched.Status = model.ScheduleStatusPending
	sched.NextRunAt = next

	if err := s.store.CreateSchedule(ctx, sched); err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	s.logger.Info("Schedule created",
		zap.String("schedule_id", sched.ID),
		zap.String("template_id", sched.TemplateID),
		zap.Time("next_run_at", next),
	)
	return nil
}

// UpdateSchedule replaces the config of a pending schedule and
// recomputes its next run.
func (s *Scheduler) UpdateSchedule(ctx context.Context, id string, cfg model.ScheduleConfig, data map[string]string) (*model.ScheduledNotification, error) {
	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule: %w", err)
	}
	if sched.Status != model.ScheduleStatusPending {
		return nil, &InvalidStatusTransitionError{
			Entity: "schedule",
			From:   string(sched.Status),
			To:     string(model.ScheduleStatusPending),
		}
	}

	next, err := NextRun(cfg, s.now())
	if err != nil {
		return nil, err
	}
	sched.Config = cfg
	if data != nil {
		sched.Data = data
	}
	sched.NextRunAt = next
	if err := s.store.UpdateSchedule(ctx, sched); err != nil {
		return nil, fmt.Errorf("failed to update schedule: %w", err)
	}
	return sched, nil
}

// DeleteSchedule cancels a schedule. In-flight promotions already
// claimed finish; nothing is promoted from the next sweep on.
func (s *Scheduler) DeleteSchedule(ctx context.Context, id string) error {
	return s.store.DeleteSchedule(ctx, id)
}

// ProcessDue promotes every pending schedule whose nextRunAt has passed
// through the notification-entry path, then recomputes the next run
// (recurring) or completes the schedule (one-time). Failures mark that
// schedule failed but never halt the sweep.
func (s *Scheduler) ProcessDue(ctx context.Context) error {
	now := s.now()
	due, err := s.store.ListDueSchedules(ctx, now, 100)
	if err != nil {
		return fmt.Errorf("failed to list due schedules: %w", err)
	}

	for i := range due {
		sched := &due[i]

		claimed, err := s.store.ClaimSchedule(ctx, sched.ID)
		if err != nil {
			s.logger.Error("Failed to claim schedule",
				zap.String("schedule_id", sched.ID),
				zap.Error(err),
			)
			continue
		}
		if !claimed {
			// Another sweep owns it.
			continue
		}

		s.processOne(ctx, sched, now)
	}
	return nil
}

func (s *Scheduler) processOne(ctx context.Context, sched *model.ScheduledNotification, now time.Time) {
	// A recurring schedule past its end date completes explicitly
	// instead of lingering pending forever.
	if sched.Config.Type == model.ScheduleRecurring &&
		sched.Config.EndDate != nil && sched.Config.EndDate.Before(now) {
		if err := s.store.FinishSchedule(ctx, sched.ID, model.ScheduleStatusCompleted, nil, now, ""); err != nil {
			s.logger.Error("Failed to complete expired schedule",
				zap.String("schedule_id", sched.ID),
				zap.Error(err),
			)
		}
		metrics.RecordSchedulePromotion("completed")
		return
	}

	recipients, err := s.resolveRecipients(ctx, sched)
	if err == nil {
		err = s.deliverer.DeliverScheduled(ctx, sched, recipients)
	}
	if err != nil {
		s.logger.Error("Schedule promotion failed",
			zap.String("schedule_id", sched.ID),
			zap.Error(err),
		)
		if ferr := s.store.FinishSchedule(ctx, sched.ID, model.ScheduleStatusFailed, nil, now, err.Error()); ferr != nil {
			s.logger.Error("Failed to mark schedule failed", zap.Error(ferr))
		}
		metrics.RecordSchedulePromotion("failed")
		return
	}

	if sched.Config.Type == model.ScheduleOneTime {
		if err := s.store.FinishSchedule(ctx, sched.ID, model.ScheduleStatusCompleted, nil, now, ""); err != nil {
			s.logger.Error("Failed to complete schedule", zap.Error(err))
		}
		metrics.RecordSchedulePromotion("completed")
		return
	}

	next, err := NextRun(sched.Config, now)
	if err != nil {
		s.logger.Error("Failed to compute next run",
			zap.String("schedule_id", sched.ID),
			zap.Error(err),
		)
		if ferr := s.store.FinishSchedule(ctx, sched.ID, model.ScheduleStatusFailed, nil, now, err.Error()); ferr != nil {
			s.logger.Error("Failed to mark schedule failed", zap.Error(ferr))
		}
		metrics.RecordSchedulePromotion("failed")
		return
	}

	if err := s.store.FinishSchedule(ctx, sched.ID, model.ScheduleStatusPending, &next, now, ""); err != nil {
		s.logger.Error("Failed to reschedule", zap.Error(err))
		return
	}
	metrics.RecordSchedulePromotion("delivered")
	s.logger.Info("Schedule promoted",
		zap.String("schedule_id", sched.ID),
		zap.Time("next_run_at", next),
	)
}

func (s *Scheduler) resolveRecipients(ctx context.Context, sched *model.ScheduledNotification) ([]string, error) {
	if len(sched.Recipients.UserIDs) > 0 {
		return sched.Recipients.UserIDs, nil
	}
	if sched.Recipients.Audience == "" {
		return nil, fmt.Errorf("schedule %s has no recipients", sched.ID)
	}
	return s.resolver.Resolve(ctx, sched.Recipients.Audience)
}

// NextRun computes the next run instant for a schedule config, in UTC.
//
// One-time schedules use the explicit SendAt once. Recurring schedules
// combine today's date in the configured timezone with the configured
// time of day; if that instant has passed (or the day is not in the
// configured set) the date advances per the recurrence rule.
func NextRun(cfg model.ScheduleConfig, now time.Time) (time.Time, error) {
	switch cfg.Type {
	case model.ScheduleOneTime:
		if cfg.SendAt == nil {
			return time.Time{}, fmt.Errorf("one-time schedule requires send_at")
		}
		return cfg.SendAt.UTC(), nil
	case model.ScheduleRecurring:
		return nextRecurring(cfg, now)
	default:
		return time.Time{}, fmt.Errorf("unknown schedule type: %s", cfg.Type)
	}
}

func nextRecurring(cfg model.ScheduleConfig, now time.Time) (time.Time, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid schedule timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}

	tod, err := time.Parse("15:04", cfg.TimeOfDay)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time of day %q: %w", cfg.TimeOfDay, err)
	}

	local := now.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(),
		tod.Hour(), tod.Minute(), 0, 0, loc)

	switch cfg.Recurrence {
	case model.RecurrenceDaily:
		if !candidate.After(local) {
			candidate = candidate.AddDate(0, 0, 1)
		}
	case model.RecurrenceWeekly:
		if len(cfg.Weekdays) == 0 {
			return time.Time{}, fmt.Errorf("weekly schedule requires weekdays")
		}
		for _, d := range cfg.Weekdays {
			if d < 0 || d > 6 {
				return time.Time{}, fmt.Errorf("weekday out of range: %d", d)
			}
		}
		candidate, err = advanceToDay(candidate, local, func(c time.Time) bool {
			return containsDay(cfg.Weekdays, int(c.Weekday()))
		})
		if err != nil {
			return time.Time{}, err
		}
	case model.RecurrenceMonthly:
		if len(cfg.MonthDays) == 0 {
			return time.Time{}, fmt.Errorf("monthly schedule requires month days")
		}
		for _, d := range cfg.MonthDays {
			if d < 1 || d > 31 {
				return time.Time{}, fmt.Errorf("month day out of range: %d", d)
			}
		}
		candidate, err = advanceToDay(candidate, local, func(c time.Time) bool {
			return containsDay(cfg.MonthDays, c.Day())
		})
		if err != nil {
			return time.Time{}, err
		}
	default:
		return time.Time{}, fmt.Errorf("unknown recurrence type: %s", cfg.Recurrence)
	}

	return candidate.UTC(), nil
}

// advanceToDay walks the candidate forward one day at a time until it is
// in the future and matches the recurrence day set. The walk is bounded:
// any valid day set matches within a year, so exceeding the bound means
// the set is unsatisfiable (e.g. month day 31 only, after validation
// changes) and must fail instead of spinning.
func advanceToDay(candidate, local time.Time, match func(time.Time) bool) (time.Time, error) {
	for i := 0; !candidate.After(local) || !match(candidate); i++ {
		if i > 366 {
			return time.Time{}, fmt.Errorf("no matching day within a year")
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate, nil
}
