// Package metrics records run outcomes as Prometheus metrics and writes them
// in the node-exporter textfile format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"platformctl/internal/cleanup"
	"platformctl/internal/notify"
	"platformctl/internal/services"
)

// Recorder owns a private registry so every run writes only its own series.
type Recorder struct {
	registry *prometheus.Registry

	serviceUp          *prometheus.GaugeVec
	serviceStart       *prometheus.GaugeVec
	cleanupFiles       *prometheus.GaugeVec
	cleanupBytes       *prometheus.GaugeVec
	notificationsTotal *prometheus.CounterVec
	runTimestamp       prometheus.Gauge
}

// NewRecorder creates a recorder with all collectors registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		serviceUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "platformctl_service_up",
			Help: "Whether the service was healthy after the last run (1) or not (0)",
		}, []string{"service", "tier"}),
		serviceStart: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "platformctl_service_start_seconds",
			Help: "Time the last start attempt took until the service was judged",
		}, []string{"service"}),
		cleanupFiles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "platformctl_cleanup_files_removed",
			Help: "Files removed from a directory by the last cleanup cycle",
		}, []string{"directory"}),
		cleanupBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "platformctl_cleanup_bytes_freed",
			Help: "Bytes freed in a directory by the last cleanup cycle",
		}, []string{"directory"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "platformctl_notifications_total",
			Help: "Webhook notifications by event type and result",
		}, []string{"event_type", "result"}),
		runTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "platformctl_run_timestamp_seconds",
			Help: "Unix time the last orchestration run finished",
		}),
	}
	r.registry.MustRegister(r.serviceUp, r.serviceStart, r.cleanupFiles, r.cleanupBytes, r.notificationsTotal, r.runTimestamp)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveServices records health and start duration per service.
func (r *Recorder) ObserveServices(states []services.RuntimeState) {
	for _, st := range states {
		up := 0.0
		if st.Phase == services.PhaseHealthy {
			up = 1
		}
		r.serviceUp.WithLabelValues(st.Name, string(st.Tier)).Set(up)
		if st.Duration > 0 {
			r.serviceStart.WithLabelValues(st.Name).Set(st.Duration.Seconds())
		}
	}
}

// ObserveCleanup records per-directory cleanup totals. Dry runs are skipped.
func (r *Recorder) ObserveCleanup(report cleanup.Report) {
	if report.DryRun {
		return
	}
	for _, p := range report.Policies {
		if !p.Enabled {
			continue
		}
		r.cleanupFiles.WithLabelValues(p.Path).Set(float64(p.FilesRemoved))
		r.cleanupBytes.WithLabelValues(p.Path).Set(float64(p.BytesFreed))
	}
}

// ObserveNotification matches notify.Options.Observe.
func (r *Recorder) ObserveNotification(kind notify.EventKind, res notify.Result) {
	result := "failed"
	switch {
	case res.Skipped:
		result = "skipped"
	case res.Delivered:
		result = "delivered"
	}
	r.notificationsTotal.WithLabelValues(string(kind), result).Inc()
}

// MarkRun stamps the run completion time.
func (r *Recorder) MarkRun(at time.Time) {
	r.runTimestamp.Set(float64(at.Unix()))
}

// WriteTextfile writes the registry to path for the node-exporter textfile
// collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
