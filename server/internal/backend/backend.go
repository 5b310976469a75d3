package backend

import (
	"context"
	"errors"
	"regexp"
)

// Errors returned by every Backend implementation.
var (
	ErrNotFound      = errors.New("backend: document not found")
	ErrConflict      = errors.New("backend: document update conflict")
	ErrDBExists      = errors.New("backend: database already exists")
	ErrDBNotFound    = errors.New("backend: database does not exist")
	ErrInvalidDBName = errors.New("backend: invalid database name")
	ErrMissingID     = errors.New("backend: document id is required")
)

var dbNameRE = regexp.MustCompile(`^[a-z][a-z0-9_$()+/-]*$`)

// ValidDBName reports whether name is an acceptable CouchDB database name.
func ValidDBName(name string) bool {
	return dbNameRE.MatchString(name)
}

// Doc is a JSON document. The reserved fields _id, _rev and _deleted carry
// identity, revision and tombstone state.
type Doc map[string]any

// ID returns the document's _id, or "" if absent.
func (d Doc) ID() string {
	s, _ := d["_id"].(string)
	return s
}

// Rev returns the document's _rev, or "" if absent.
func (d Doc) Rev() string {
	s, _ := d["_rev"].(string)
	return s
}

// Deleted reports whether d is a tombstone.
func (d Doc) Deleted() bool {
	b, _ := d["_deleted"].(bool)
	return b
}

// DBInfo is the summary returned for GET /{db}.
type DBInfo struct {
	DBName      string `json:"db_name"`
	DocCount    int    `json:"doc_count"`
	DocDelCount int    `json:"doc_del_count"`
	Backend     string `json:"backend"`
}

// Row is one entry of an _all_docs listing.
type Row struct {
	ID    string   `json:"id"`
	Key   string   `json:"key"`
	Value RowValue `json:"value"`
}

// RowValue holds the winning revision of a listed document.
type RowValue struct {
	Rev string `json:"rev"`
}

// Backend is one concrete storage engine serving every database.
// Implementations are safe for concurrent use.
type Backend interface {
	// Name identifies the engine, e.g. "bolt" or "proxy".
	Name() string

	AllDBs(ctx context.Context) ([]string, error)
	CreateDB(ctx context.Context, db string) error
	DestroyDB(ctx context.Context, db string) error
	DBInfo(ctx context.Context, db string) (DBInfo, error)

	// Get returns ErrNotFound for missing and deleted documents.
	Get(ctx context.Context, db, id string) (Doc, error)
	// Put stores doc and returns its new revision. doc must carry the
	// current _rev when updating an existing document.
	Put(ctx context.Context, db string, doc Doc) (string, error)
	// Delete writes a tombstone revision and returns it.
	Delete(ctx context.Context, db, id, rev string) (string, error)
	AllDocs(ctx context.Context, db string) ([]Row, error)

	// Close releases the engine. No other method may be called afterwards.
	Close() error
}

// Options carries everything a Factory may need to open a Backend.
type Options struct {
	// Prefix is the storage directory for file engines and the key
	// namespace for redis.
	Prefix string
	// Target is the remote CouchDB URL in proxy mode.
	Target string
	// RedisURL locates the redis server for the redisdown engine.
	RedisURL string
}

// Factory opens a Backend.
type Factory func(ctx context.Context, opts Options) (Backend, error)
