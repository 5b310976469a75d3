// Package reconfig wires option writes to the components they reconfigure.
//
// Each option carries one effect. Engine.Bind subscribes one handler per
// effect to every option path with that effect:
//
//	rebind listener       httpd.port, httpd.bind_address
//	swap storage backend  couchdb.database_dir, pouchdb_server.*, redis.url
//	restart log tail      pouchdb_server.no-stdout-logs, log.file
//	set log level         log.level
//
// Handlers read whatever else they need from the store at the time they run
// and queue the work on the owning component, so a write made from inside
// an HTTP request never waits on the listener that serves it.
package reconfig
