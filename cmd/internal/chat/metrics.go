package chat

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	messagesAppended prometheus.Counter
	pushes           *prometheus.CounterVec
	reaped           prometheus.Counter
	events           *prometheus.CounterVec
	eventDuration    *prometheus.HistogramVec
	fanoutTargets    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, errors.New("chat: nil prometheus registerer")
	}

	m := &Metrics{
		messagesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "murmur",
			Name:      "messages_appended_total",
			Help:      "Messages appended to room logs.",
		}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "murmur",
			Name:      "push_attempts_total",
			Help:      "Per-connection push attempts by result.",
		}, []string{"result"}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "murmur",
			Name:      "connections_reaped_total",
			Help:      "Connections removed from the registry after a failed push.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "murmur",
			Name:      "events_total",
			Help:      "Handled events by kind and response status code.",
		}, []string{"kind", "status"}),
		eventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "murmur",
			Name:      "event_duration_seconds",
			Help:      "Event handling latency by kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		fanoutTargets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "murmur",
			Name:      "fanout_targets",
			Help:      "Registry size observed by the most recent fanout.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.messagesAppended, m.pushes, m.reaped, m.events, m.eventDuration, m.fanoutTargets,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeAppend() {
	if m == nil {
		return
	}
	m.messagesAppended.Inc()
}

func (m *Metrics) observePush(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.pushes.WithLabelValues("fail").Inc()
		return
	}
	m.pushes.WithLabelValues("ok").Inc()
}

func (m *Metrics) observeReaped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reaped.Add(float64(n))
}

func (m *Metrics) observeFanout(targets int) {
	if m == nil {
		return
	}
	m.fanoutTargets.Set(float64(targets))
}

func (m *Metrics) observeEvent(kind EventKind, status int, took time.Duration) {
	if m == nil {
		return
	}
	k := string(kind)
	if k == "" {
		k = "unknown"
	}
	m.events.WithLabelValues(k, strconv.Itoa(status)).Inc()
	m.eventDuration.WithLabelValues(k).Observe(took.Seconds())
}
