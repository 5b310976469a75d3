// Package pusher delivers config file entries to a sofa-server.
//
// Push is non-blocking and keeps the newest entries when its buffer is
// full. Run sends them in order through PUT /_config, retrying transient
// failures with truncated exponential backoff; an entry the server
// rejects outright is logged and dropped.
package pusher
