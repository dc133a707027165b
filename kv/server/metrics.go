package server

import "github.com/prometheus/client_golang/prometheus"

var (
	commandCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinyredis",
			Subsystem: "server",
			Name:      "command_total",
			Help:      "Counter of executed commands.",
		}, []string{"command"})

	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tinyredis",
			Subsystem: "server",
			Name:      "command_duration_seconds",
			Help:      "Bucketed histogram of command execution time (s).",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 2, 20),
		}, []string{"command"})

	execCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinyredis",
			Subsystem: "transaction",
			Name:      "exec_total",
			Help:      "Counter of EXEC outcomes.",
		}, []string{"result"})

	rehashCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tinyredis",
			Subsystem: "keyspace",
			Name:      "rehash_buckets_total",
			Help:      "Counter of buckets migrated by background rehashing.",
		})

	expiredCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tinyredis",
			Subsystem: "keyspace",
			Name:      "expired_keys_total",
			Help:      "Counter of keys removed by the active expire cycle.",
		})

	keyspaceGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tinyredis",
			Subsystem: "keyspace",
			Name:      "keys",
			Help:      "Number of keys and keys with a time to live per database.",
		}, []string{"db", "type"})

	slotsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tinyredis",
			Subsystem: "keyspace",
			Name:      "slots",
			Help:      "Number of hash table slots per database.",
		}, []string{"db", "table"})

	sessionGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tinyredis",
			Subsystem: "server",
			Name:      "sessions",
			Help:      "Number of open sessions.",
		})

	bioPendingGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tinyredis",
			Subsystem: "bio",
			Name:      "pending_jobs",
			Help:      "Number of pending background jobs.",
		}, []string{"type"})
)

func init() {
	prometheus.MustRegister(commandCounter)
	prometheus.MustRegister(commandDuration)
	prometheus.MustRegister(execCounter)
	prometheus.MustRegister(rehashCounter)
	prometheus.MustRegister(expiredCounter)
	prometheus.MustRegister(keyspaceGauge)
	prometheus.MustRegister(slotsGauge)
	prometheus.MustRegister(sessionGauge)
	prometheus.MustRegister(bioPendingGauge)
}
