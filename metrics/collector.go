package metrics

// Collector wraps metrics and provides helper methods with pre-filled labels.
type Collector struct {
	pipeline string
}

// NewCollector creates a new Collector for the given pipeline.
func NewCollector(pipeline string) *Collector {
	return &Collector{pipeline: pipeline}
}

// IncBranchesProcessed increments the branches processed counter.
func (c *Collector) IncBranchesProcessed() {
	BranchesProcessedTotal.WithLabelValues(c.pipeline).Inc()
}

// IncPluginExecutions increments the executions counter for a plugin and state.
func (c *Collector) IncPluginExecutions(plugin, state string) {
	PluginExecutionsTotal.WithLabelValues(c.pipeline, plugin, state).Inc()
}

// IncPluginsSkipped increments the skipped counter for a plugin and reason.
func (c *Collector) IncPluginsSkipped(plugin, reason string) {
	PluginsSkippedTotal.WithLabelValues(c.pipeline, plugin, reason).Inc()
}

// IncClaimConflicts increments the claim conflicts counter for a plugin.
func (c *Collector) IncClaimConflicts(plugin string) {
	ClaimConflictsTotal.WithLabelValues(c.pipeline, plugin).Inc()
}

// AddStaleClaimsReleased adds n to the stale claims released counter.
func (c *Collector) AddStaleClaimsReleased(n int) {
	StaleClaimsReleasedTotal.WithLabelValues(c.pipeline).Add(float64(n))
}

// ObservePluginExecutionDuration records a plugin execution duration observation.
func (c *Collector) ObservePluginExecutionDuration(plugin string, seconds float64) {
	PluginExecutionDuration.WithLabelValues(c.pipeline, plugin).Observe(seconds)
}

// ObserveBranchDuration records a branch duration observation.
func (c *Collector) ObserveBranchDuration(seconds float64) {
	BranchDuration.WithLabelValues(c.pipeline).Observe(seconds)
}
