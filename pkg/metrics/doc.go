// Package metrics defines the Prometheus collectors exported by the
// orchestrator and the scrape handler serving them.
package metrics
