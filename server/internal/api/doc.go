// Package api implements the HTTP interface of sofa-server.
//
// New(deps) returns an http.Handler (gin) serving:
//
//	GET    /                       welcome: couchdb, version, uuid, vendor
//	GET    /_all_dbs               database names
//	GET    /_utils                 admin UI placeholder
//	GET    /_config                every set option, by section
//	GET    /_config/{section}      one section
//	GET    /_config/{section}/{key}
//	PUT    /_config/{section}/{key} write a value; returns the previous one
//	GET    /_sofa/status           listener, backend and log tail status
//	GET    /_sofa/metrics          Prometheus metrics
//	GET    /_sofa/stream           WebSocket status stream
//	PUT    /{db}                   create database
//	GET    /{db}                   database info
//	DELETE /{db}                   delete database
//	POST   /{db}                   create document with generated id
//	GET    /{db}/_all_docs
//	GET    /{db}/{docid}
//	PUT    /{db}/{docid}           create or update (needs current _rev)
//	DELETE /{db}/{docid}?rev=
//
// Every database route acquires the active backend for the whole request
// and releases it afterwards, so a backend swap never interrupts a request
// already running. Errors use CouchDB's {"error", "reason"} body.
package api
