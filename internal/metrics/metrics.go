// Package metrics wires every subsystem's counters, gauges, and
// histograms into a single Prometheus registry (spec §7, §9). There is no
// teacher-style internal metrics.Registry to gather from here, so this
// owns a *prometheus.Registry directly rather than adapting one (compare
// the teacher's metrics/prometheus package, which bridges its own
// metrics.Registry into a prometheus.Gatherer).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "triarb"

// Metrics bundles every counter/gauge/histogram named in spec §7's error
// taxonomy and §9's design notes.
type Metrics struct {
	Registry *prometheus.Registry

	// Pool ingestion & enrichment (spec §4.2-4.3, scenario S7).
	PoolsParsed       prometheus.Counter
	PoolsParseErrors  *prometheus.CounterVec
	PoolsMissingVault prometheus.Counter

	// Account Fetcher (spec §4.1).
	FetchAttempts prometheus.Counter
	FetchFailures *prometheus.CounterVec

	// Subscription Manager (spec §4.5).
	SubscriptionReconnects prometheus.Counter
	SubscriptionsIdle      prometheus.Gauge
	ShardsAbandoned        prometheus.Counter

	// Arbitrage Graph (spec §4.6).
	GraphTokens prometheus.Gauge
	GraphEdges  prometheus.Gauge

	// Cycle Detector (spec §4.7).
	DetectionRuns    prometheus.Counter
	DetectionLatency prometheus.Histogram
	CyclesFound      prometheus.Counter

	// Opportunity Scorer (spec §4.8).
	OpportunitiesEvaluated prometheus.Counter
	OpportunitiesPassed    prometheus.Counter

	// Transaction Builder (spec §4.9, §7).
	BuildErrors *prometheus.CounterVec

	// Transaction Sender (spec §4.10).
	SendAttempts      prometheus.Counter
	SendConfirmed     prometheus.Counter
	SendFailed        *prometheus.CounterVec
	SendLatency       prometheus.Histogram
	FrontrunSuspected prometheus.Counter
}

// New builds a Metrics bundle registered against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		PoolsParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingestion", Name: "pools_parsed_total",
			Help: "Pools successfully decoded by the Pool Parser.",
		}),
		PoolsParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingestion", Name: "pools_parse_errors_total",
			Help: "Pool Parser failures, by kind.",
		}, []string{"kind"}),
		PoolsMissingVault: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingestion", Name: "pools_missing_vault_total",
			Help: "Pools whose vault account was absent or malformed (spec scenario S7).",
		}),
		FetchAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fetcher", Name: "attempts_total",
			Help: "Account Fetcher requests issued.",
		}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fetcher", Name: "failures_total",
			Help: "Account Fetcher failures, by kind.",
		}, []string{"kind"}),
		SubscriptionReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "subscription", Name: "reconnects_total",
			Help: "Subscription Manager reconnect attempts.",
		}),
		SubscriptionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "subscription", Name: "idle_streams",
			Help: "Subscription shards currently idle (no update in the idle window).",
		}),
		ShardsAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "subscription", Name: "shards_abandoned_total",
			Help: "Subscription shards abandoned after exhausting reconnect attempts.",
		}),
		GraphTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "graph", Name: "tokens",
			Help: "Distinct tokens currently registered in the Arbitrage Graph.",
		}),
		GraphEdges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "graph", Name: "edges",
			Help: "Edges currently registered in the Arbitrage Graph.",
		}),
		DetectionRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "detector", Name: "runs_total",
			Help: "Cycle Detector passes executed.",
		}),
		DetectionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "detector", Name: "latency_seconds",
			Help:    "Wall-clock duration of a single Cycle Detector pass.",
			Buckets: prometheus.DefBuckets,
		}),
		CyclesFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "detector", Name: "cycles_found_total",
			Help: "Negative-weight cycles reported by the Cycle Detector.",
		}),
		OpportunitiesEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scorer", Name: "opportunities_evaluated_total",
			Help: "Cycles passed to the Opportunity Scorer.",
		}),
		OpportunitiesPassed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scorer", Name: "opportunities_passed_total",
			Help: "Cycles that cleared the profitability gate.",
		}),
		BuildErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "builder", Name: "errors_total",
			Help: "Transaction Builder failures, by kind.",
		}, []string{"kind"}),
		SendAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sender", Name: "attempts_total",
			Help: "Transaction Sender submissions started.",
		}),
		SendConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sender", Name: "confirmed_total",
			Help: "Transactions confirmed by at least one endpoint.",
		}),
		SendFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sender", Name: "failed_total",
			Help: "Transaction Sender failures, by kind.",
		}, []string{"kind"}),
		SendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "sender", Name: "confirm_latency_seconds",
			Help:    "Time from submission to the winning endpoint's confirmation.",
			Buckets: prometheus.DefBuckets,
		}),
		FrontrunSuspected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sender", Name: "frontrun_suspected_total",
			Help: "Confirmations whose realized/expected profit ratio fell below the front-run threshold (spec §4.10).",
		}),
	}

	reg.MustRegister(
		m.PoolsParsed, m.PoolsParseErrors, m.PoolsMissingVault,
		m.FetchAttempts, m.FetchFailures,
		m.SubscriptionReconnects, m.SubscriptionsIdle, m.ShardsAbandoned,
		m.GraphTokens, m.GraphEdges,
		m.DetectionRuns, m.DetectionLatency, m.CyclesFound,
		m.OpportunitiesEvaluated, m.OpportunitiesPassed,
		m.BuildErrors,
		m.SendAttempts, m.SendConfirmed, m.SendFailed, m.SendLatency, m.FrontrunSuspected,
	)
	return m
}
