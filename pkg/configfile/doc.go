// Package configfile loads and watches the sofa YAML config file.
//
// The file is a two-level map of section → key → scalar, the same shape as
// the /_config API:
//
//	httpd:
//	  port: 5984
//	  bind_address: 127.0.0.1
//	couchdb:
//	  database_dir: ./data
//	pouchdb_server:
//	  sqlite: true
//
// Load(path) parses and validates a file. Diff(prev, next) lists the keys
// that changed between two versions. Watch(ctx, path, onChange) reloads
// the file on every write or atomic save; sofa-server writes each changed
// key to its config store and sofactl push forwards them to a running
// server.
package configfile
