// Package metrics defines the Prometheus instrumentation for Flotilla.
// Collectors register on the default registry; the API exposes them at
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GroupsCreated counts successful group creations.
	GroupsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flotilla_groups_created_total",
		Help: "Number of groups created.",
	})

	// GroupsJoined counts successful joins.
	GroupsJoined = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flotilla_groups_joined_total",
		Help: "Number of successful group joins.",
	})

	// GroupsLeft counts successful leaves.
	GroupsLeft = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flotilla_groups_left_total",
		Help: "Number of successful group leaves.",
	})

	// LocationsPublished counts accepted location writes.
	LocationsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flotilla_locations_published_total",
		Help: "Number of accepted location writes.",
	})

	// LocationsThrottled counts publishes dropped by the minimum-interval gate.
	LocationsThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flotilla_locations_throttled_total",
		Help: "Number of location publishes dropped by the throttle.",
	})

	// PublishFailures counts swallowed location write failures by kind.
	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flotilla_location_publish_failures_total",
		Help: "Number of swallowed location write failures.",
	}, []string{"kind"})

	// WatchesActive tracks live presence watches.
	WatchesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flotilla_presence_watches_active",
		Help: "Number of live presence watches.",
	})

	// WatchUpdates counts composed-mapping deliveries to watchers.
	WatchUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flotilla_presence_updates_total",
		Help: "Number of composed snapshots delivered to watchers.",
	})
)
