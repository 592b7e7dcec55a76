// Package metrics holds the process wide prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deadman"

var (
	ScanCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scan_cycles_total",
		Help:      "Completed overdue scan cycles by result.",
	}, []string{"result"})

	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scan_duration_seconds",
		Help:      "Duration of overdue scan cycles.",
		Buckets:   prometheus.DefBuckets,
	})

	SwitchesTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "switches_triggered_total",
		Help:      "Switches moved from active to triggered.",
	})

	TriggerConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trigger_skipped_total",
		Help:      "Overdue switches left alone because a concurrent change won.",
	})

	TriggersSuperseded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "triggers_superseded_total",
		Help:      "Trigger episodes dropped before dispatch because the switch left that episode.",
	})

	CheckIns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "check_ins_total",
		Help:      "Accepted check-ins.",
	})

	NotificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_created_total",
		Help:      "Notification records created by type.",
	}, []string{"type"})

	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_deliveries_total",
		Help:      "Final delivery outcome of notifications by status.",
	}, []string{"status"})

	DeliveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_delivery_attempts_total",
		Help:      "Individual delivery attempts by result.",
	}, []string{"result"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
