// Package dbswitch derives the storage Spec from live options and swaps the
// active backend instance.
//
// Derive applies the fixed precedence proxy > in-memory > alternate-backend >
// sqlite > default. Switcher.Schedule queues a swap; swaps run one at a time.
// A swap resolves the engine, creates the storage directory for file-based
// specs, opens the new backend and stores it with one atomic pointer swap.
// Failures leave the previous backend active.
//
// Request handlers call Acquire for every request and release when done; a
// swapped-out backend is closed only after its last user releases it.
package dbswitch
