// Package scraper reads a sofa-server's /_sofa/metrics exposition and
// condenses it into the counters sofactl status prints: listener cycles,
// bind failures, backend swaps, log tail restarts and config writes.
package scraper
