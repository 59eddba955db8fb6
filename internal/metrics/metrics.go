package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "datebook_events_created_total",
		Help: "Total number of events created.",
	})

	EventsUpdated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "datebook_events_updated_total",
		Help: "Total number of events updated.",
	})

	EventsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "datebook_events_deleted_total",
		Help: "Total number of events deleted.",
	})

	EventsImported = promauto.NewCounter(prometheus.CounterOpts{
		Name: "datebook_events_imported_total",
		Help: "Total number of events inserted via bulk import.",
	})

	ValidationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "datebook_validation_failures_total",
		Help: "Total number of commands rejected by event validation.",
	})

	StoreSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datebook_store_saves_total",
		Help: "Total number of write-through persistence attempts, labelled by status.",
	}, []string{"status"})

	StoreEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "datebook_store_events",
		Help: "Current number of events held in the store.",
	})

	BackupsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datebook_backups_created_total",
		Help: "Total number of backup artifacts written, labelled by status.",
	}, []string{"status"})

	RequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "datebook_http_request_duration_ms",
		Help:    "HTTP request latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})
)
