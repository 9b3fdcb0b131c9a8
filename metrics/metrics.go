// Package metrics exports engine activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"slotmap/engine"
	"slotmap/qc"
)

// Observer counts engine events and QC lookups. It implements
// engine.Observer and may be shared by several engines.
type Observer struct {
	events   *prometheus.CounterVec
	lookups  *prometheus.CounterVec
	inFlight prometheus.Gauge
}

// New creates an Observer and registers its collectors with reg.
func New(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slotmap",
			Name:      "events_total",
			Help:      "Events sent to mapping engines, by event kind and result.",
		}, []string{"event", "result"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slotmap",
			Name:      "qc_lookups_total",
			Help:      "Finished prior QC lookups, by result.",
		}, []string{"result"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "slotmap",
			Name:      "qc_lookups_in_flight",
			Help:      "Prior QC lookups currently outstanding.",
		}),
	}
	for _, c := range []prometheus.Collector{o.events, o.lookups, o.inFlight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Observer) EventHandled(kind engine.Kind, result engine.Result) {
	o.events.WithLabelValues(string(kind), string(result)).Inc()
}

func (o *Observer) LookupStarted() {
	o.inFlight.Inc()
}

// LookupFinished labels failures with their lookup error code.
func (o *Observer) LookupFinished(err error) {
	o.inFlight.Dec()
	result := "ok"
	if err != nil {
		result = string(qc.CodeOf(err))
	}
	o.lookups.WithLabelValues(result).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
