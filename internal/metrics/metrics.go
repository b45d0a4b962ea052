// Package metrics exports instrument readings and protocol health to
// Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaunagostinho/vacdash/internal/gauge"
	"github.com/shaunagostinho/vacdash/internal/instrument"
	"github.com/shaunagostinho/vacdash/internal/ionpump"
)

// Collector owns a private registry so several instances can coexist.
type Collector struct {
	registry *prometheus.Registry

	pressure   prometheus.Gauge
	ignition   prometheus.Gauge
	ionCurrent prometheus.Gauge
	ionVoltage prometheus.Gauge

	diagnostics  *prometheus.CounterVec
	pollErrors   *prometheus.CounterVec
	pollDuration *prometheus.HistogramVec
	lastPoll     *prometheus.GaugeVec
}

// New creates a Collector with all metrics registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		pressure: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vacdash_gauge_pressure_torr",
			Help: "Last valid pressure reported by the ion gauge.",
		}),
		ignition: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vacdash_gauge_ignition_on",
			Help: "1 when the gauge reports its ion gauge lit.",
		}),
		ionCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vacdash_ionpump_current_nanoamps",
			Help: "Ion pump current.",
		}),
		ionVoltage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vacdash_ionpump_voltage_kilovolts",
			Help: "Ion pump high voltage.",
		}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vacdash_diagnostics_total",
			Help: "Protocol anomalies observed, by device and kind.",
		}, []string{"device", "kind"}),
		pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vacdash_poll_errors_total",
			Help: "Polls that returned no reading.",
		}, []string{"device"}),
		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vacdash_poll_duration_seconds",
			Help:    "Time spent polling one device.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"device"}),
		lastPoll: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vacdash_last_poll_timestamp_seconds",
			Help: "Unix time of the last successful poll.",
		}, []string{"device"}),
	}
	c.registry.MustRegister(
		c.pressure,
		c.ignition,
		c.ionCurrent,
		c.ionVoltage,
		c.diagnostics,
		c.pollErrors,
		c.pollDuration,
		c.lastPoll,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveGauge records a gauge reading. Off-scale pressures (gauge unlit)
// leave the pressure metric at its previous value.
func (c *Collector) ObserveGauge(r *gauge.Reading) {
	if r == nil {
		return
	}
	if r.Valid {
		c.pressure.Set(r.Pressure)
	}
	if r.IgnitionOn {
		c.ignition.Set(1)
	} else {
		c.ignition.Set(0)
	}
	c.lastPoll.WithLabelValues("gauge").Set(float64(r.Stamp) / 1000)
}

// ObservePump records an ion pump reading.
func (c *Collector) ObservePump(r *ionpump.Reading) {
	if r == nil {
		return
	}
	c.ionCurrent.Set(r.Current)
	c.ionVoltage.Set(r.Voltage)
	c.lastPoll.WithLabelValues("ionpump").Set(float64(r.Stamp) / 1000)
}

// Diagnostic counts one protocol anomaly. It fits instrument.DiagnosticFunc.
func (c *Collector) Diagnostic(d instrument.Diagnostic) {
	c.diagnostics.WithLabelValues(d.Device, d.Kind.String()).Inc()
}

// PollError counts a poll that produced no reading.
func (c *Collector) PollError(device string) {
	c.pollErrors.WithLabelValues(device).Inc()
}

// ObservePoll records how long a device poll took.
func (c *Collector) ObservePoll(device string, d time.Duration) {
	c.pollDuration.WithLabelValues(device).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
