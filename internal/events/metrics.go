package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pendingEvents = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "researchd_progress_events_pending",
		Help: "Progress events delivered to the consumer group but not acked.",
	}, []string{"stream", "group"})
	oldestPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "researchd_progress_oldest_pending_seconds",
		Help: "Idle time of the oldest unacked progress event.",
	}, []string{"stream", "group"})
)
