// Package metrics exposes prometheus collectors for the charging controller.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "charging_controller_"

	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Collector records controller activity.
type Collector struct {
	ticks       *prometheus.CounterVec
	stops       *prometheus.CounterVec
	stopErrors  prometheus.Counter
	outcomes    *prometheus.CounterVec
	settlements *prometheus.CounterVec
	redirects   prometheus.Counter
	active      prometheus.Gauge
}

// New registers the collectors on reg. A nil reg uses the default registerer;
// collectors already registered are reused.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "ticks_total",
			Help: "Energy synchronisation ticks by result",
		}, []string{"result"}),
		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "stops_total",
			Help: "Sessions stopped by trigger",
		}, []string{"trigger"}),
		stopErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "stop_failures_total",
			Help: "Stop calls that failed and were surfaced to the user",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "negotiation_outcomes_total",
			Help: "Deadline negotiations by outcome",
		}, []string{"outcome"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "settlements_total",
			Help: "Payment hand-offs after stop by outcome",
		}, []string{"outcome"}),
		redirects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "guard_redirects_total",
			Help: "Navigations redirected back into the charging flow",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "active_sessions",
			Help: "Controllers currently attached to a session",
		}),
	}

	var err error
	if c.ticks, err = register(reg, c.ticks); err != nil {
		return nil, err
	}
	if c.stops, err = register(reg, c.stops); err != nil {
		return nil, err
	}
	if c.stopErrors, err = register(reg, c.stopErrors); err != nil {
		return nil, err
	}
	if c.outcomes, err = register(reg, c.outcomes); err != nil {
		return nil, err
	}
	if c.settlements, err = register(reg, c.settlements); err != nil {
		return nil, err
	}
	if c.redirects, err = register(reg, c.redirects); err != nil {
		return nil, err
	}
	if c.active, err = register(reg, c.active); err != nil {
		return nil, err
	}
	return c, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return col, err
	}
	return col, nil
}

// Tick counts one synchronisation attempt.
func (c *Collector) Tick(ok bool) {
	if c == nil {
		return
	}
	result := ResultSuccess
	if !ok {
		result = ResultFailure
	}
	c.ticks.WithLabelValues(result).Inc()
}

// Stop counts a stop trigger.
func (c *Collector) Stop(trigger string) {
	if c == nil {
		return
	}
	c.stops.WithLabelValues(trigger).Inc()
}

// StopFailed counts a failed stop call.
func (c *Collector) StopFailed() {
	if c == nil {
		return
	}
	c.stopErrors.Inc()
}

// Negotiation counts a negotiation outcome.
func (c *Collector) Negotiation(outcome string) {
	if c == nil {
		return
	}
	c.outcomes.WithLabelValues(outcome).Inc()
}

// Settlement counts a payment hand-off.
func (c *Collector) Settlement(outcome string) {
	if c == nil {
		return
	}
	c.settlements.WithLabelValues(outcome).Inc()
}

// GuardRedirect counts a blocked navigation.
func (c *Collector) GuardRedirect() {
	if c == nil {
		return
	}
	c.redirects.Inc()
}

// SessionAttached tracks controller registrations.
func (c *Collector) SessionAttached(delta int) {
	if c == nil {
		return
	}
	c.active.Add(float64(delta))
}
