package engine

import (
	"context"
	"fmt"
	"time"

	"notification-engine/internal/model"

	"go.uber.org/zap"
)

// PreferenceStore persists per-user delivery policy, creating defaults
// on first access.
type PreferenceStore interface {
	GetOrCreate(ctx context.Context, userID, templateType string) (*model.Preference, error)
	Update(ctx context.Context, pref *model.Preference) error
}

// Gate decides per user/template/channel whether a notification is
// allowed, and whether it should be deferred into a digest.
type Gate struct {
	store  PreferenceStore
	logger *zap.Logger
	now    func() time.Time
}

func NewGate(store PreferenceStore, logger *zap.Logger) *Gate {
	return &Gate{store: store, logger: logger, now: time.Now}
}

// ShouldSend applies both the per-channel enablement and the
// quiet-hour window check in one contract. In-app delivery only needs
// the template preference to be enabled; email and push additionally
// require their channel boolean and an open window.
func (g *Gate) ShouldSend(ctx context.Context, userID, templateType string, channel model.Channel) (bool, error) {
	pref, err := g.store.GetOrCreate(ctx, userID, templateType)
	if err != nil {
		return false, fmt.Errorf("failed to load preference: %w", err)
	}

	if !pref.Enabled {
		return false, nil
	}

	switch channel {
	case model.ChannelApp:
		return pref.AppEnabled, nil
	case model.ChannelEmail:
		if !pref.EmailEnabled {
			return false, nil
		}
	case model.ChannelPush:
		if !pref.PushEnabled {
			return false, nil
		}
	default:
		return false, fmt.Errorf("unknown channel: %s", channel)
	}

	return withinAllowedWindow(pref.Windows, g.now()), nil
}

// Digest reports whether sends for this user/template should be parked
// for digest processing rather than dispatched immediately.
func (g *Gate) Digest(ctx context.Context, userID, templateType string) (model.DigestFrequency, error) {
	pref, err := g.store.GetOrCreate(ctx, userID, templateType)
	if err != nil {
		return model.DigestImmediate, fmt.Errorf("failed to load preference: %w", err)
	}
	if pref.Digest == "" {
		return model.DigestImmediate, nil
	}
	return pref.Digest, nil
}

// withinAllowedWindow returns true when no windows are configured, or
// when now falls inside at least one configured window. Windows whose
// end precedes their start span midnight.
func withinAllowedWindow(windows []model.ScheduleWindow, now time.Time) bool {
	if len(windows) == 0 {
		return true
	}

	for _, w := range windows {
		loc := time.UTC
		if w.Timezone != "" {
			if l, err := time.LoadLocation(w.Timezone); err == nil {
				loc = l
			}
		}
		local := now.In(loc)

		if len(w.Days) > 0 && !containsDay(w.Days, int(local.Weekday())) {
			continue
		}

		start, err1 := time.Parse("15:04", w.Start)
		end, err2 := time.Parse("15:04", w.End)
		if err1 != nil || err2 != nil {
			continue
		}

		cur := local.Hour()*60 + local.Minute()
		startMin := start.Hour()*60 + start.Minute()
		endMin := end.Hour()*60 + end.Minute()

		if startMin <= endMin {
			if cur >= startMin && cur <= endMin {
				return true
			}
		} else {
			// Spans midnight, e.g. 22:00-07:00.
			if cur >= startMin || cur <= endMin {
				return true
			}
		}
	}
	return false
}

func containsDay(days []int, day int) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}
