// Package metrics exposes Prometheus collectors for listener transitions,
// bind failures, backend swaps, log tail restarts and option writes.
package metrics
