// Package metrics exports detector, call and notification telemetry.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer captures telemetry for the escalation pipeline.
type Observer interface {
	RecordTick(mode string, due int, err error)
	RecordTransition(kind string)
	RecordNotification(op string, err error)
	SetQueueLength(n int)
}

type nopObserver struct{}

func (nopObserver) RecordTick(string, int, error)   {}
func (nopObserver) RecordTransition(string)         {}
func (nopObserver) RecordNotification(string, error) {}
func (nopObserver) SetQueueLength(int)              {}

// Nop returns an observer that records nothing.
func Nop() Observer { return nopObserver{} }

// OrNop returns o, or a no-op observer when nil.
func OrNop(o Observer) Observer {
	if o == nil {
		return Nop()
	}
	return o
}

// PrometheusObserver exports metrics to Prometheus.
type PrometheusObserver struct {
	ticks         *prometheus.CounterVec
	tickErrors    *prometheus.CounterVec
	dueReminders  *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	notifyErrors  *prometheus.CounterVec
	queueLength   prometheus.Gauge
}

// NewPrometheusObserver registers the collectors on reg (DefaultRegisterer when nil).
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "callminder"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_ticks_total",
			Help:      "Due-reminder detector ticks by lifecycle mode.",
		}, []string{"mode"}),
		tickErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_tick_errors_total",
			Help:      "Detector ticks skipped because the reminder store could not be read.",
		}, []string{"mode"}),
		dueReminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_due_reminders_total",
			Help:      "Reminders found inside the tolerance window.",
		}, []string{"mode"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_transitions_total",
			Help:      "Applied call state transitions by kind.",
		}, []string{"kind"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_operations_total",
			Help:      "Platform notification operations by kind.",
		}, []string{"op"}),
		notifyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_errors_total",
			Help:      "Failed platform notification operations by kind.",
		}, []string{"op"}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "call_queue_length",
			Help:      "Reminders waiting behind the active call.",
		}),
	}

	collectors := []prometheus.Collector{
		o.ticks, o.tickErrors, o.dueReminders, o.transitions,
		o.notifications, o.notifyErrors, o.queueLength,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return o, nil
}

func (o *PrometheusObserver) RecordTick(mode string, due int, err error) {
	o.ticks.WithLabelValues(mode).Inc()
	if err != nil {
		o.tickErrors.WithLabelValues(mode).Inc()
		return
	}
	o.dueReminders.WithLabelValues(mode).Add(float64(due))
}

func (o *PrometheusObserver) RecordTransition(kind string) {
	o.transitions.WithLabelValues(kind).Inc()
}

func (o *PrometheusObserver) RecordNotification(op string, err error) {
	o.notifications.WithLabelValues(op).Inc()
	if err != nil {
		o.notifyErrors.WithLabelValues(op).Inc()
	}
}

func (o *PrometheusObserver) SetQueueLength(n int) {
	o.queueLength.Set(float64(n))
}
