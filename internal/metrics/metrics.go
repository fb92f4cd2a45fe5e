package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"testbed/internal/api"
)

const namespace = "testbed"

// Context outcomes.
const (
	OutcomePassed        = "passed"
	OutcomeSetupFailed   = "setup_failed"
	OutcomeBodyFailed    = "body_failed"
	OutcomeVerifyFailed  = "verification_failed"
	OutcomeTeardownError = "teardown_failed"
)

// Recorder holds the testbed collectors. A nil *Recorder records nothing.
type Recorder struct {
	Contexts             *prometheus.CounterVec
	ResourceStart        *prometheus.HistogramVec
	ResourceFailures     *prometheus.CounterVec
	TeardownFailures     prometheus.Counter
	VerificationFailures prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		Contexts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contexts_total",
			Help:      "Test contexts run, by outcome",
		}, []string{"outcome"}),
		ResourceStart: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resource_start_seconds",
			Help:      "Time resources took to reach Started",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "provider"}),
		ResourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_failures_total",
			Help:      "Resources that ended in Error, by the stage that failed",
		}, []string{"kind", "stage"}),
		TeardownFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardown_failures_total",
			Help:      "Best-effort teardown steps that failed",
		}),
		VerificationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_failures_total",
			Help:      "Test contexts failed by interaction verification",
		}),
	}
	for _, c := range r.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) collectors() []prometheus.Collector {
	return []prometheus.Collector{r.Contexts, r.ResourceStart, r.ResourceFailures, r.TeardownFailures, r.VerificationFailures}
}

// Unregister removes the collectors from reg.
func (r *Recorder) Unregister(reg prometheus.Registerer) {
	if r == nil {
		return
	}
	for _, c := range r.collectors() {
		reg.Unregister(c)
	}
}

func (r *Recorder) ContextFinished(outcome string) {
	if r == nil {
		return
	}
	r.Contexts.WithLabelValues(outcome).Inc()
}

func (r *Recorder) ResourceStarted(decl api.ResourceDeclaration, took time.Duration) {
	if r == nil {
		return
	}
	r.ResourceStart.WithLabelValues(string(decl.Kind), decl.Provider).Observe(took.Seconds())
}

func (r *Recorder) ResourceFailed(decl api.ResourceDeclaration, stage api.ResourceState) {
	if r == nil {
		return
	}
	r.ResourceFailures.WithLabelValues(string(decl.Kind), string(stage)).Inc()
}

func (r *Recorder) TeardownFailed(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.TeardownFailures.Add(float64(n))
}

func (r *Recorder) VerificationFailed() {
	if r == nil {
		return
	}
	r.VerificationFailures.Inc()
}
