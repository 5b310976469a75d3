package config

import "time"

// Default values for the recognized options.
const (
	DefaultPort         = 5984
	DefaultHost         = "127.0.0.1"
	DefaultDir          = "./"
	DefaultLogFile      = "./log.txt"
	DefaultLogLevel     = "info"
	DefaultRedisURL     = "redis://localhost:6379/0"
	DefaultDrainTimeout = 10 * time.Second
)

// Key paths of the recognized options.
const (
	PathPort         Path = "httpd.port"
	PathHost         Path = "httpd.bind_address"
	PathDrainTimeout Path = "httpd.drain_timeout"
	PathDir          Path = "couchdb.database_dir"
	PathInMemory     Path = "pouchdb_server.in_memory"
	PathSQLite       Path = "pouchdb_server.sqlite"
	PathProxy        Path = "pouchdb_server.proxy"
	PathLevelBackend Path = "pouchdb_server.level_backend"
	PathLevelPrefix  Path = "pouchdb_server.level_prefix"
	PathNoStdoutLogs Path = "pouchdb_server.no-stdout-logs"
	PathLogFile      Path = "log.file"
	PathLogLevel     Path = "log.level"
	PathRedisURL     Path = "redis.url"
)

// Effect names the reconfiguration a change to an option triggers.
type Effect int

const (
	// EffectNone options are read on demand; writing them triggers nothing.
	EffectNone Effect = iota
	EffectRebind
	EffectSwapBackend
	EffectRestartTail
	EffectLogLevel
)

func (e Effect) String() string {
	switch e {
	case EffectRebind:
		return "rebind listener"
	case EffectSwapBackend:
		return "swap storage backend"
	case EffectRestartTail:
		return "restart log tail"
	case EffectLogLevel:
		return "set log level"
	default:
		return "none"
	}
}

// Option binds an external option name to exactly one key path.
type Option struct {
	// Name is the external identifier used for flags and environment
	// variables, e.g. "in-memory".
	Name    string
	Path    Path
	Default any
	Effect  Effect
	Usage   string
}

// Options returns the recognized options. Some options share an effect;
// their order here is the order their handlers are bound.
func Options() []Option {
	return []Option{
		{Name: "port", Path: PathPort, Default: DefaultPort, Effect: EffectRebind,
			Usage: "port to listen on"},
		{Name: "host", Path: PathHost, Default: DefaultHost, Effect: EffectRebind,
			Usage: "address to bind to"},
		{Name: "dir", Path: PathDir, Default: DefaultDir, Effect: EffectSwapBackend,
			Usage: "directory where databases are stored"},
		{Name: "in-memory", Path: PathInMemory, Default: false, Effect: EffectSwapBackend,
			Usage: "keep all databases in memory"},
		{Name: "sqlite", Path: PathSQLite, Default: false, Effect: EffectSwapBackend,
			Usage: "store databases in sqlite"},
		{Name: "proxy", Path: PathProxy, Default: nil, Effect: EffectSwapBackend,
			Usage: "proxy every database to this remote CouchDB URL"},
		{Name: "level-backend", Path: PathLevelBackend, Default: nil, Effect: EffectSwapBackend,
			Usage: "alternate backend module (memdown, boltdown, sqldown, redisdown)"},
		{Name: "level-prefix", Path: PathLevelPrefix, Default: nil, Effect: EffectSwapBackend,
			Usage: "key prefix for the alternate backend"},
		{Name: "redis-url", Path: PathRedisURL, Default: DefaultRedisURL, Effect: EffectSwapBackend,
			Usage: "redis server used by the redisdown backend"},
		{Name: "no-stdout-logs", Path: PathNoStdoutLogs, Default: false, Effect: EffectRestartTail,
			Usage: "do not mirror the log file to stdout"},
		{Name: "log-file", Path: PathLogFile, Default: DefaultLogFile, Effect: EffectRestartTail,
			Usage: "log file path"},
		{Name: "log-level", Path: PathLogLevel, Default: DefaultLogLevel, Effect: EffectLogLevel,
			Usage: "log level (debug, info, warn, error)"},
		{Name: "drain-timeout", Path: PathDrainTimeout, Default: DefaultDrainTimeout.String(), Effect: EffectNone,
			Usage: "how long a rebind waits for open connections to finish"},
	}
}
