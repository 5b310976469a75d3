// Package serial sequences asynchronous work per owned resource.
//
// The listener, the log tail supervisor and the database switcher each own one
// Queue. A reconfiguration handler schedules its teardown/setup sequence with
// Go and returns immediately; the next sequence for the same resource starts
// only after the previous one has fully completed.
package serial
