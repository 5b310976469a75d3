// Package logtail mirrors the process log file to the console.
//
// Supervisor holds at most one tail. Restart is safe to call repeatedly and
// from several goroutines: calls are queued, and each one stops the current
// tail and waits for its file and watcher to be released before opening a
// new one. When pouchdb_server.no-stdout-logs is true a restart leaves no
// tail running; records still reach the log file.
//
// The tail watches the file's directory with fsnotify, so lumberjack
// rotations (rename, then create) are followed.
package logtail
