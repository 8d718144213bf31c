package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder exports ingestion and funnel metrics to Prometheus.
type Recorder struct {
	eventsIngested   *prometheus.CounterVec
	eventsRejected   prometheus.Counter
	profilesUpserted prometheus.Counter
	funnelDuration   prometheus.Histogram
	funnelQueryFails *prometheus.CounterVec
}

func NewRecorder(namespace string, reg prometheus.Registerer) (*Recorder, error) {
	if namespace == "" {
		namespace = "onboarding"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		eventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_events_ingested_total",
			Help:      "Step events accepted into the event store, by step.",
		}, []string{"step"}),
		eventsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_events_rejected_total",
			Help:      "Step events rejected at ingestion for an unknown step or missing session.",
		}),
		profilesUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profiles_upserted_total",
			Help:      "Completed onboarding profiles written.",
		}),
		funnelDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "funnel_compute_duration_seconds",
			Help:      "Latency of a full funnel computation.",
			Buckets:   prometheus.DefBuckets,
		}),
		funnelQueryFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "funnel_query_failures_total",
			Help:      "Per-step funnel queries that failed and were reported as zero.",
		}, []string{"step"}),
	}

	var err error
	if r.eventsIngested, err = register(reg, r.eventsIngested); err != nil {
		return nil, err
	}
	if r.eventsRejected, err = register(reg, r.eventsRejected); err != nil {
		return nil, err
	}
	if r.profilesUpserted, err = register(reg, r.profilesUpserted); err != nil {
		return nil, err
	}
	if r.funnelDuration, err = register(reg, r.funnelDuration); err != nil {
		return nil, err
	}
	if r.funnelQueryFails, err = register(reg, r.funnelQueryFails); err != nil {
		return nil, err
	}
	return r, nil
}

// register adds c to reg, or returns the collector already registered under
// the same descriptor so a second Recorder shares the exported series.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register onboarding metric: %w", err)
	}
	return c, nil
}

func (r *Recorder) EventsIngested(step string, n int) {
	if r == nil {
		return
	}
	r.eventsIngested.WithLabelValues(step).Add(float64(n))
}

func (r *Recorder) EventsRejected(n int) {
	if r == nil {
		return
	}
	r.eventsRejected.Add(float64(n))
}

func (r *Recorder) ProfileUpserted() {
	if r == nil {
		return
	}
	r.profilesUpserted.Inc()
}

func (r *Recorder) FunnelComputed(d time.Duration) {
	if r == nil {
		return
	}
	r.funnelDuration.Observe(d.Seconds())
}

func (r *Recorder) FunnelQueryFailed(step string) {
	if r == nil {
		return
	}
	r.funnelQueryFails.WithLabelValues(step).Inc()
}
