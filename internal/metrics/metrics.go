package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "apploader"

// Recorder collects operation and device-call metrics. A nil *Recorder
// records nothing.
type Recorder struct {
	registry *prom.Registry

	operations        *prom.CounterVec
	operationDuration *prom.HistogramVec
	deviceCalls       *prom.CounterVec
	deviceDuration    *prom.HistogramVec
	installedApps     prom.Gauge
	eventSubscribers  prom.Gauge
}

// New creates a recorder on its own registry, with the Go runtime and
// process collectors registered alongside.
func New() *Recorder {
	reg := prom.NewRegistry()
	r := &Recorder{
		registry: reg,
		operations: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Installer operations by operation and result",
		}, []string{"operation", "result"}),
		operationDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of installer operations",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"operation"}),
		deviceCalls: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "device_calls_total",
			Help:      "Device transport calls by call and result",
		}, []string{"call", "result"}),
		deviceDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "device_call_duration_seconds",
			Help:      "Duration of device transport calls",
			Buckets:   prom.DefBuckets,
		}, []string{"call"}),
		installedApps: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "installed_apps",
			Help:      "Apps on the connected device, as last reported",
		}),
		eventSubscribers: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Connected live event subscribers",
		}),
	}

	reg.MustRegister(
		r.operations,
		r.operationDuration,
		r.deviceCalls,
		r.deviceDuration,
		r.installedApps,
		r.eventSubscribers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func result(err error) string {
	if err != nil {
		return "failed"
	}
	return "success"
}

// ObserveOperation records a finished installer operation
func (r *Recorder) ObserveOperation(op string, err error, d time.Duration) {
	if r == nil {
		return
	}
	r.operations.WithLabelValues(op, result(err)).Inc()
	r.operationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveDeviceCall records a finished transport call
func (r *Recorder) ObserveDeviceCall(call string, err error, d time.Duration) {
	if r == nil {
		return
	}
	r.deviceCalls.WithLabelValues(call, result(err)).Inc()
	r.deviceDuration.WithLabelValues(call).Observe(d.Seconds())
}

// SetInstalledApps records the size of the installed list
func (r *Recorder) SetInstalledApps(n int) {
	if r == nil {
		return
	}
	r.installedApps.Set(float64(n))
}

// AddEventSubscribers adjusts the live subscriber gauge
func (r *Recorder) AddEventSubscribers(delta int) {
	if r == nil {
		return
	}
	r.eventSubscribers.Add(float64(delta))
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prom.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
