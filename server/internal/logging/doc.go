// Package logging writes the sofa-server process log.
//
// Records are JSON lines in a lumberjack-rotated file. The console never
// receives them directly; the log tail supervisor mirrors the file instead.
package logging
