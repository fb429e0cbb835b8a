package metrics

import (
	"database/sql"
	"log"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "schoollive_"

var (
	registerOnce sync.Once

	commandsCreated prometheus.Counter
	commandResults  *prometheus.CounterVec
	pollRequests    *prometheus.CounterVec
	deviceBeacons   prometheus.Counter
	authFailures    *prometheus.CounterVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		commandsCreated = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_created_total",
				Help: "Total commands admitted to the queue",
			},
		)
		commandResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_results_total",
				Help: "Total finalized commands by terminal status",
			},
			[]string{"status"},
		)
		pollRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "poll_requests_total",
				Help: "Total device polls by dispatch outcome",
			},
			[]string{"result"},
		)
		deviceBeacons = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "device_beacons_total",
				Help: "Total heartbeat reports from devices",
			},
		)
		authFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "auth_failures_total",
				Help: "Total rejected requests by auth kind",
			},
			[]string{"kind"},
		)

		prometheus.MustRegister(
			commandsCreated,
			commandResults,
			pollRequests,
			deviceBeacons,
			authFailures,
		)

		registerDBMetrics(db, logger)
	})
}

// IncCommandCreated counts an admitted command.
func IncCommandCreated() {
	if commandsCreated != nil {
		commandsCreated.Inc()
	}
}

// IncCommandResult counts a finalized command by terminal status.
func IncCommandResult(status string) {
	if commandResults != nil {
		commandResults.WithLabelValues(status).Inc()
	}
}

// IncPoll counts a device poll by dispatch outcome.
func IncPoll(result string) {
	if pollRequests != nil {
		pollRequests.WithLabelValues(result).Inc()
	}
}

// IncDeviceBeacon counts a device heartbeat.
func IncDeviceBeacon() {
	if deviceBeacons != nil {
		deviceBeacons.Inc()
	}
}

// IncAuthFailure counts a rejected request (kind: jwt or device_key).
func IncAuthFailure(kind string) {
	if authFailures != nil {
		authFailures.WithLabelValues(kind).Inc()
	}
}
