// Package metrics holds the Prometheus instruments shared by the node's
// components and the HTTP exporter that serves them.
package metrics
