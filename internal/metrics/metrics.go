package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "trapnz_bridge"

var (
	// Uplinks counts processed uplink notifications by pipeline outcome
	Uplinks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uplinks_total",
		Help:      "Uplink notifications processed, by outcome.",
	}, []string{"outcome"})

	// UplinkDuration observes pipeline latency
	UplinkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "uplink_duration_seconds",
		Help:      "Time spent processing an uplink notification.",
		Buckets:   prometheus.DefBuckets,
	})

	// TokenRequests counts token endpoint calls by grant and result
	TokenRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_requests_total",
		Help:      "Access token requests, by grant type and result.",
	}, []string{"grant", "result"})

	// SensorRecords counts Trap.NZ sensor record requests by response status
	SensorRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sensor_records_total",
		Help:      "Sensor record requests sent to Trap.NZ, by HTTP status.",
	}, []string{"status"})

	// PayloadMismatches counts network-decoded payloads disagreeing with the local decode
	PayloadMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decoded_payload_mismatches_total",
		Help:      "Network provided decoded payloads that differ from the local decode.",
	})

	// EventPublishes counts record mirror publishes by transport and result
	EventPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_publishes_total",
		Help:      "Sensor records mirrored to event transports, by transport and result.",
	}, []string{"transport", "result"})
)
