package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BranchesProcessedTotal tracks the total number of ProcessBranch calls that completed.
var BranchesProcessedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "leaf_orchestrator_branches_processed_total",
		Help: "Total branches processed",
	},
	[]string{"pipeline"},
)

// PluginExecutionsTotal tracks plugin executions by final attempt state.
var PluginExecutionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "leaf_orchestrator_plugin_executions_total",
		Help: "Total plugin executions by state",
	},
	[]string{"pipeline", "plugin", "state"},
)

// PluginsSkippedTotal tracks plugins skipped because their dependencies could not be resolved.
var PluginsSkippedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "leaf_orchestrator_plugins_skipped_total",
		Help: "Total plugins skipped by reason",
	},
	[]string{"pipeline", "plugin", "reason"},
)

// ClaimConflictsTotal tracks claims lost to another claimer between the status
// check and the claim itself.
var ClaimConflictsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "leaf_orchestrator_claim_conflicts_total",
		Help: "Total claims lost to a concurrent claimer after the status check",
	},
	[]string{"pipeline", "plugin"},
)

// StaleClaimsReleasedTotal tracks processing claims released by stale-claim recovery.
var StaleClaimsReleasedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "leaf_orchestrator_stale_claims_released_total",
		Help: "Total stale claims released",
	},
	[]string{"pipeline"},
)

// PluginExecutionDuration tracks time spent executing a plugin, including storage.
var PluginExecutionDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "leaf_orchestrator_plugin_execution_duration_seconds",
		Help:    "Plugin execution latency",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"pipeline", "plugin"},
)

// BranchDuration tracks time spent in ProcessBranch.
var BranchDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "leaf_orchestrator_branch_duration_seconds",
		Help:    "Time spent processing a branch",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"pipeline"},
)
