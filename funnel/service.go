// Package funnel turns onboarding step events into a per-step drop-off report.
package funnel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"voiceonboard/api/models"
	"voiceonboard/api/onboarding"
)

const (
	DefaultWindowDays  = 30
	undefinedDropOff   = "-"
	defaultConcurrency = 4
)

var (
	ErrInvalidWindow = errors.New("window must be at least one day")
	// ErrAggregationQueryFailed wraps a failed per-step query. It is logged and
	// the step reported as zero; ComputeFunnel never returns it.
	ErrAggregationQueryFailed = errors.New("aggregation query failed")
)

// EventSource answers distinct-session counts from the event store.
type EventSource interface {
	DistinctSessions(ctx context.Context, step string, since time.Time) (uint64, error)
}

// Observer is told about computations and degraded steps.
type Observer interface {
	FunnelComputed(d time.Duration)
	FunnelQueryFailed(step string)
}

type nopObserver struct{}

func (nopObserver) FunnelComputed(time.Duration) {}
func (nopObserver) FunnelQueryFailed(string)     {}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

func WithObserver(o Observer) Option { return func(s *Service) { s.observer = o } }

// WithConcurrency bounds the number of step queries in flight.
func WithConcurrency(n int) Option { return func(s *Service) { s.concurrency = n } }

// WithQueryTimeout bounds each step query. Zero means only the caller's context applies.
func WithQueryTimeout(d time.Duration) Option { return func(s *Service) { s.queryTimeout = d } }

type Service struct {
	source       EventSource
	steps        []onboarding.Step
	now          func() time.Time
	logger       *zap.Logger
	observer     Observer
	concurrency  int
	queryTimeout time.Duration
}

func NewService(source EventSource, catalog *onboarding.Catalog, opts ...Option) *Service {
	s := &Service{
		source:      source,
		steps:       catalog.Steps(),
		now:         func() time.Time { return time.Now().UTC() },
		logger:      zap.NewNop(),
		observer:    nopObserver{},
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.concurrency < 1 {
		s.concurrency = 1
	}
	return s
}

// ComputeFunnel counts distinct sessions per canonical step over the trailing
// windowDays and the drop-off against the preceding step. A failing step query
// is reported as zero instead of failing the report.
func (s *Service) ComputeFunnel(ctx context.Context, windowDays int) (*models.FunnelReport, error) {
	if windowDays < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWindow, windowDays)
	}
	started := time.Now()
	now := s.now()
	since := now.Add(-time.Duration(windowDays) * 24 * time.Hour)

	counts := make([]uint64, len(s.steps))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, step := range s.steps {
		g.Go(func() error {
			n, err := s.count(ctx, step.Key, since)
			if err != nil {
				s.logger.Warn("funnel step degraded to zero",
					zap.String("step", step.Key),
					zap.Int("window_days", windowDays),
					zap.Error(err))
				s.observer.FunnelQueryFailed(step.Key)
				return nil
			}
			counts[i] = n
			return nil
		})
	}
	_ = g.Wait()

	report := &models.FunnelReport{
		WindowDays:  windowDays,
		Since:       since,
		GeneratedAt: now,
		Rows:        BuildRows(s.steps, counts),
	}
	s.observer.FunnelComputed(time.Since(started))
	return report, nil
}

func (s *Service) count(ctx context.Context, step string, since time.Time) (uint64, error) {
	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}
	n, err := s.source.DistinctSessions(ctx, step, since)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrAggregationQueryFailed, err)
	}
	return n, nil
}

// BuildRows pairs steps with their counts in order. counts[i] belongs to steps[i].
func BuildRows(steps []onboarding.Step, counts []uint64) []models.FunnelRow {
	rows := make([]models.FunnelRow, len(steps))
	for i, step := range steps {
		rows[i] = models.FunnelRow{
			Step:    step.Key,
			Label:   step.Label,
			Count:   counts[i],
			DropOff: undefinedDropOff,
		}
		if i > 0 {
			rows[i].DropOff = DropOff(counts[i-1], counts[i])
		}
	}
	return rows
}

// DropOff formats the share of prev lost by cur, e.g. "50.0%". It is "-" when
// prev is zero.
func DropOff(prev, cur uint64) string {
	if prev == 0 {
		return undefinedDropOff
	}
	pct := (float64(prev) - float64(cur)) / float64(prev) * 100
	pct = math.Round(pct*10) / 10
	if pct == 0 {
		pct = 0 // avoid "-0.0%"
	}
	return fmt.Sprintf("%.1f%%", pct)
}
