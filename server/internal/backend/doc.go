// Package backend implements the storage engines sofa can serve databases
// from.
//
// Every engine satisfies Backend. Local engines (memory, bolt, sqlite, redis)
// only store raw JSON per (database, id); revisions ("N-<md5>"), conflict
// checks and delete tombstones are layered on top by a shared document store.
// The proxy engine forwards every call to a remote CouchDB instead.
//
// Alternate engines are looked up by module name through a Registry:
//
//	memdown    in-process maps
//	boltdown   bolt file <prefix>/sofa.bolt
//	sqldown    sqlite file <prefix>/sofa.sqlite
//	redisdown  redis hashes namespaced by <prefix>
package backend
