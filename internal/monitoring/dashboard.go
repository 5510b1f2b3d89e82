package monitoring

import "time"

// Dashboard is a read-only aggregation of the monitoring sidecar's three
// sub-stores, assembled on demand rather than held as its own store.
type Dashboard struct {
	Health         AggregateReport
	MetricSummaries map[string]map[string]Summary
	ActiveAlerts   []Alert
	UptimeSeconds  float64
}

// BuildDashboard snapshots the given registries into one Dashboard view,
// computing uptime against startedAt.
func BuildDashboard(health *Registry, metrics *MetricsRegistry, alerts *AlertEngine, startedAt time.Time) Dashboard {
	return Dashboard{
		Health:          health.Last(),
		MetricSummaries: metrics.Summaries(),
		ActiveAlerts:    alerts.Active(),
		UptimeSeconds:   time.Since(startedAt).Seconds(),
	}
}
