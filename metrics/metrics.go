// Package metrics exports codec and session events as Prometheus metrics.
//
//	obs, err := metrics.NewObserver(prometheus.DefaultRegisterer, "keelson")
//	codec, _ := keelson.NewCodecBuilder().WithRegistry(reg).WithObserver(obs).Build()
//	http.Handle("/metrics", metrics.Handler(prometheus.DefaultGatherer))
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trickstertwo/keelson"
)

// Observer counts events by type, operation and tag, and records durations
// and envelope sizes.
type Observer struct {
	events   *prometheus.CounterVec
	errors   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	size     *prometheus.HistogramVec
}

var _ keelson.Observer = (*Observer)(nil)

// NewObserver creates the collectors under namespace and registers them
// with reg.
func NewObserver(reg prometheus.Registerer, namespace string) (*Observer, error) {
	o := &Observer{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Codec and session events by type, operation and tag.",
			},
			[]string{"type", "op", "tag"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Failed codec operations and dropped samples by operation and error kind.",
			},
			[]string{"op", "kind"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of enclose, uncover, publish and handler calls.",
				Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"op"},
		),
		size: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "envelope_size_bytes",
				Help:      "Size of enclosed and uncovered envelopes.",
				Buckets:   prometheus.ExponentialBuckets(16, 4, 8),
			},
			[]string{"op"},
		),
	}
	for _, c := range []prometheus.Collector{o.events, o.errors, o.duration, o.size} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Observer) OnEvent(e keelson.Event) {
	op := string(e.Operation)
	o.events.WithLabelValues(string(e.Type), op, e.Tag).Inc()

	if e.Err != nil {
		o.errors.WithLabelValues(op, errorKind(e.Err)).Inc()
	}
	if e.Duration > 0 {
		o.duration.WithLabelValues(op).Observe(e.Duration.Seconds())
	}
	if e.Size > 0 {
		o.size.WithLabelValues(op).Observe(float64(e.Size))
	}
}

func errorKind(err error) string {
	var (
		unknown   *keelson.UnknownTagError
		decode    *keelson.DecodeError
		malformed *keelson.MalformedEnvelopeError
		mismatch  *keelson.SchemaMismatchError
	)
	switch {
	case errors.As(err, &unknown):
		return "unknown_tag"
	case errors.As(err, &decode):
		return "decode"
	case errors.As(err, &malformed):
		return "malformed_envelope"
	case errors.As(err, &mismatch):
		return "schema_mismatch"
	}
	return "other"
}

// Handler serves g in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
