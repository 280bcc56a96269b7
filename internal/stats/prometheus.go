package stats

import "github.com/prometheus/client_golang/prometheus"

// PrometheusSink exports the server-state gauges as a Prometheus GaugeVec
// labeled by state.
type PrometheusSink struct {
	servers *prometheus.GaugeVec
}

// NewPrometheusSink registers the gauges on reg and returns the sink.
// Pass prometheus.DefaultRegisterer for the process-wide registry.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	servers := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "kvrouter",
		Subsystem: "destination",
		Name:      "servers",
		Help:      "Number of destination servers by connectivity state.",
	}, []string{"state"})
	reg.MustRegister(servers)

	return &PrometheusSink{servers: servers}
}

func (s *PrometheusSink) Increment(g Gauge) {
	s.servers.WithLabelValues(g.String()).Inc()
}

func (s *PrometheusSink) Decrement(g Gauge) {
	s.servers.WithLabelValues(g.String()).Dec()
}
