package persistor

import "github.com/prometheus/client_golang/prometheus"

var (
	messagesProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "persistor_messages_processed_total",
			Help: "Messages durably stored and acknowledged.",
		},
	)

	batchesFlushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "persistor_batches_flushed_total",
			Help: "Batches written to the blob store.",
		},
	)

	storeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "persistor_store_failures_total",
			Help: "Batches whose durable write exhausted its retries.",
		},
	)

	formatErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "persistor_format_errors_total",
			Help: "Messages skipped because their payload could not be decoded.",
		},
	)

	messagesAbandoned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "persistor_messages_abandoned_total",
			Help: "Fetched messages released back to the source unstored.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		messagesProcessed,
		batchesFlushed,
		storeFailures,
		formatErrors,
		messagesAbandoned,
	)
}
