package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"notification-engine/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ABTestStore persists experiments and their append-only event stream.
type ABTestStore interface {
	GetTest(ctx context.Context, id string) (*model.ABTest, error)
	CreateTest(ctx context.Context, test *model.ABTest) error
	UpdateTest(ctx context.Context, test *model.ABTest) error
	ActiveTestForTemplate(ctx context.Context, templateID string) (*model.ABTest, error)
	InsertEvent(ctx context.Context, event *model.ABTestEvent) error
	EventCounts(ctx context.Context, testID string) (map[string]map[model.ABTestEventType]int64, error)
}

var abTransitions = map[model.ABTestStatus][]model.ABTestStatus{
	model.ABTestStatusDraft:  {model.ABTestStatusActive, model.ABTestStatusStopped},
	model.ABTestStatusActive: {model.ABTestStatusCompleted, model.ABTestStatusStopped},
}

// Selector performs weighted-random variant selection for active
// experiments and records exposure/outcome events.
type Selector struct {
	store  ABTestStore
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSelector(store ABTestStore, logger *zap.Logger) *Selector {
	return &Selector{
		store:  store,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CreateTest persists a draft experiment.
func (s *Selector) CreateTest(ctx context.Context, test *model.ABTest) error {
	if len(test.Variants) == 0 {
		return fmt.Errorf("a/b test requires at least one variant")
	}
	if test.ID == "" {
		test.ID = uuid.NewString()
	}
	for i := range test.Variants {
		if test.Variants[i].ID == "" {
			test.Variants[i].ID = uuid.NewString()
		}
	}
	test.Status = model.ABTestStatusDraft
	return s.store.CreateTest(ctx, test)
}

// UpdateStatus enforces the experiment lifecycle. A stopped or completed
// test never selects again from the next sweep onward.
func (s *Selector) UpdateStatus(ctx context.Context, testID string, to model.ABTestStatus, winningVariant string) (*model.ABTest, error) {
	test, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to load a/b test: %w", err)
	}

	if !transitionAllowed(test.Status, to) {
		return nil, &InvalidStatusTransitionError{
			Entity: "abtest",
			From:   string(test.Status),
			To:     string(to),
		}
	}

	test.Status = to
	if winningVariant != "" {
		test.WinningVariant = winningVariant
	}
	if err := s.store.UpdateTest(ctx, test); err != nil {
		return nil, fmt.Errorf("failed to update a/b test: %w", err)
	}

	s.logger.Info("A/B test status changed",
		zap.String("test_id", testID),
		zap.String("status", string(to)),
	)
	return test, nil
}

func transitionAllowed(from, to model.ABTestStatus) bool {
	for _, allowed := range abTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ActiveForTemplate returns the running experiment for a template, or
// nil when none is active.
func (s *Selector) ActiveForTemplate(ctx context.Context, templateID string) (*model.ABTest, error) {
	return s.store.ActiveTestForTemplate(ctx, templateID)
}

// SelectVariant draws a variant weighted-randomly. Only legal while the
// test is active. Unset weights count as 1; if floating point residue
// leaves nothing selected the first variant wins.
func (s *Selector) SelectVariant(ctx context.Context, testID, userID string) (model.Variant, error) {
	test, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return model.Variant{}, fmt.Errorf("failed to load a/b test: %w", err)
	}
	if test.Status != model.ABTestStatusActive {
		return model.Variant{}, fmt.Errorf("a/b test %s is not active (status %s)", testID, test.Status)
	}
	return s.pick(test.Variants), nil
}

func (s *Selector) pick(variants []model.Variant) model.Variant {
	total := 0.0
	for _, v := range variants {
		total += effectiveWeight(v)
	}

	s.mu.Lock()
	r := s.rng.Float64() * total
	s.mu.Unlock()

	for _, v := range variants {
		r -= effectiveWeight(v)
		if r <= 0 {
			return v
		}
	}
	// Defensive: floating point residue left no variant selected.
	return variants[0]
}

func effectiveWeight(v model.Variant) float64 {
	if v.Weight <= 0 {
		return 1
	}
	return v.Weight
}

// TrackEvent appends one exposure/outcome fact for a variant.
func (s *Selector) TrackEvent(ctx context.Context, testID, variantID, userID string, event model.ABTestEventType) error {
	return s.store.InsertEvent(ctx, &model.ABTestEvent{
		ID:        uuid.NewString(),
		TestID:    testID,
		VariantID: variantID,
		UserID:    userID,
		Event:     event,
	})
}

// Metrics aggregates counts per variant per event type and derives
// funnel rates, each guarded against division by zero.
func (s *Selector) Metrics(ctx context.Context, testID string) ([]model.VariantMetrics, error) {
	test, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to load a/b test: %w", err)
	}

	counts, err := s.store.EventCounts(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate a/b events: %w", err)
	}

	out := make([]model.VariantMetrics, 0, len(test.Variants))
	for _, v := range test.Variants {
		c := counts[v.ID]
		if c == nil {
			c = map[model.ABTestEventType]int64{}
		}
		m := model.VariantMetrics{
			VariantID:    v.ID,
			Counts:       c,
			DeliveryRate: ratio(c[model.ABEventDelivered], c[model.ABEventSent]),
			ReadRate:     ratio(c[model.ABEventRead], c[model.ABEventDelivered]),
			ClickRate:    ratio(c[model.ABEventClicked], c[model.ABEventRead]),
		}
		out = append(out, m)
	}
	return out, nil
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
