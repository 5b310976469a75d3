// Package config holds the live configuration of sofa-server.
//
// Store is a key-path table. Each path ("httpd.port") resolves to its current
// value if one was written, else its registered default, else Unset. Writing a
// path with Set calls the handlers subscribed to exactly that path, in
// subscription order, before Set returns.
//
// Registry maps external option names ("port", "in-memory") to paths,
// registers defaults and binds one handler per Effect:
//
//	port, host                         → rebind listener
//	dir, in-memory, sqlite, proxy,
//	level-backend, level-prefix,
//	redis-url                          → swap storage backend
//	no-stdout-logs, log-file           → restart log tail
//	log-level                          → set log level
//	drain-timeout                      → none (read at rebind time)
//
// Nothing is persisted; values live for the lifetime of the process.
package config
