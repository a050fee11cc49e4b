package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StorageOperations counts storage contract operations by backend,
	// operation name and outcome ("ok" or "error").
	StorageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "katelyatv_storage_operations_total",
		Help: "Storage operations by backend, operation and outcome.",
	}, []string{"backend", "op", "status"})

	// StorageRetries counts transient-failure retries issued by the retry
	// wrapper around the TCP-based backends.
	StorageRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "katelyatv_storage_retries_total",
		Help: "Retries performed after transient storage backend failures.",
	})

	// StorageReconnectProbes counts reconnect probes issued by the client
	// manager. Deduplicated concurrent probes count once.
	StorageReconnectProbes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "katelyatv_storage_reconnect_probes_total",
		Help: "Reconnect probes issued for shared backend client handles.",
	})

	// StorageFallbacks counts startup degradations to the in-memory backend.
	// A non-zero value in production means the configured backend was
	// unreachable at selection time.
	StorageFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "katelyatv_storage_fallback_total",
		Help: "Startup fallbacks from the configured backend to memory.",
	})
)
