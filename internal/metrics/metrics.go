// Package metrics holds the prometheus collectors shared by the directory
// service. They are registered with the default registry on import.
package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lan_presence",
			Name:      "build_info",
			Help:      "A metric with a constant '1' value labeled by version and goversion.",
		}, []string{"version", "goversion"})

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lan_presence",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Number of API requests.",
		}, []string{"type", "result"})
	APIRequestsSeconds = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace:  "lan_presence",
			Subsystem:  "api",
			Name:       "requests_seconds",
			Help:       "Latency of API requests.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"type"})

	BroadcastSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lan_presence",
			Subsystem: "broadcast",
			Name:      "sends_total",
			Help:      "Number of presence frames handed to the broadcast socket.",
		}, []string{"result"})
	BroadcastBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lan_presence",
			Subsystem: "broadcast",
			Name:      "bytes_total",
			Help:      "Payload bytes of successfully sent frames.",
		})

	RegistryOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lan_presence",
			Subsystem: "registry",
			Name:      "operations_total",
			Help:      "Number of registry operations.",
		}, []string{"operation", "result"})
	RegistryOperationSeconds = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace:  "lan_presence",
			Subsystem:  "registry",
			Name:       "operation_seconds",
			Help:       "Latency of registry operations.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"operation"})

	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lan_presence",
			Subsystem: "api",
			Name:      "rate_limited_total",
			Help:      "Number of presence updates rejected by the update rate limit.",
		})
)

const (
	OpCreate = "create"
	OpGet    = "get"
	OpUpdate = "update"

	ResSuccess       = "success"
	ResNotFound      = "not_found"
	ResAlreadyExists = "already_exists"
	ResError         = "error"
)

func init() {
	prometheus.MustRegister(BuildInfo,
		APIRequestsTotal, APIRequestsSeconds,
		BroadcastSendsTotal, BroadcastBytesTotal,
		RegistryOperations, RegistryOperationSeconds,
		RateLimitedTotal)
}

// SetBuildInfo publishes the running version.
func SetBuildInfo(version string) {
	BuildInfo.WithLabelValues(version, runtime.Version()).Set(1)
}
