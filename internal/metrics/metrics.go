// Package metrics provides Prometheus metrics for the filegate server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Command results.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultInvalid = "invalid"
)

var (
	// Connection metrics
	connectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filegate_connections_total",
			Help: "Total number of accepted connections",
		},
		[]string{"transport"},
	)

	connectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "filegate_connections_active",
			Help: "Number of connections with a running session worker",
		},
		[]string{"transport"},
	)

	acceptErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filegate_accept_errors_total",
			Help: "Accept calls that failed while the server was running",
		},
	)

	messagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filegate_messages_total",
			Help: "Free-text messages routed to the message handler",
		},
	)

	// File command metrics
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filegate_file_commands_total",
			Help: "File commands by action and result",
		},
		[]string{"action", "result"},
	)

	commandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filegate_file_command_duration_seconds",
			Help:    "File command duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	bytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filegate_bytes_uploaded_total",
			Help: "File bytes received from clients",
		},
	)

	bytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filegate_bytes_downloaded_total",
			Help: "File bytes sent to clients",
		},
	)

	// Inventory
	rootFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filegate_root_files",
			Help: "Regular files directly under the file root",
		},
	)
)

// ConnectionOpened records an accepted connection.
func ConnectionOpened(transport string) {
	connectionsTotal.WithLabelValues(transport).Inc()
	connectionsActive.WithLabelValues(transport).Inc()
}

// ConnectionClosed records the end of a session worker.
func ConnectionClosed(transport string) {
	connectionsActive.WithLabelValues(transport).Dec()
}

// AcceptError records a failed accept.
func AcceptError() {
	acceptErrorsTotal.Inc()
}

// MessageHandled records a free-text message.
func MessageHandled() {
	messagesTotal.Inc()
}

// RecordCommand records one file command.
func RecordCommand(action, result string, d time.Duration) {
	commandsTotal.WithLabelValues(action, result).Inc()
	commandDuration.WithLabelValues(action).Observe(d.Seconds())
}

// AddBytesUploaded adds received file bytes.
func AddBytesUploaded(n int) {
	if n > 0 {
		bytesUploaded.Add(float64(n))
	}
}

// AddBytesDownloaded adds sent file bytes.
func AddBytesDownloaded(n int) {
	if n > 0 {
		bytesDownloaded.Add(float64(n))
	}
}

// SetRootFiles sets the inventory gauge.
func SetRootFiles(n int) {
	rootFiles.Set(float64(n))
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
