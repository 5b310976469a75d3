package dbswitch

import (
	"fmt"
	"path/filepath"

	"github.com/sofadb/sofa/server/internal/backend"
	"github.com/sofadb/sofa/server/internal/config"
)

// Mode is the storage variant a Spec selects.
type Mode string

const (
	ModeProxy     Mode = "proxy"
	ModeInMemory  Mode = "in-memory"
	ModeAlternate Mode = "alternate-backend"
	ModeSQLite    Mode = "sqlite-adapter"
	ModeDefault   Mode = "default-backend"
)

// Spec describes the backend instance to build. Only the fields relevant
// to Mode are set, so two Specs compare equal exactly when they would
// build the same instance.
type Spec struct {
	Mode Mode `json:"mode"`
	// Target is the remote CouchDB URL (proxy).
	Target string `json:"target,omitempty"`
	// Module is the alternate backend module name (alternate-backend).
	Module string `json:"module,omitempty"`
	// Prefix is the storage directory or key namespace handed to the engine.
	Prefix string `json:"prefix,omitempty"`
	// Dir is created before activation. Empty for specs that do not store
	// files under the storage directory.
	Dir string `json:"dir,omitempty"`
	// RedisURL is only carried for the redisdown module.
	RedisURL string `json:"redis_url,omitempty"`
}

// FileBased reports whether activating s needs a storage directory.
func (s Spec) FileBased() bool { return s.Dir != "" }

// lockFile returns the file s opens with an exclusive process lock, or "".
// bolt locks its file, so two specs naming the same bolt file must share
// one open engine.
func (s Spec) lockFile() string {
	if s.Mode == ModeDefault || (s.Mode == ModeAlternate && s.Module == "boltdown") {
		return filepath.Join(filepath.Clean(s.Prefix), backend.BoltFile)
	}
	return ""
}

func (s Spec) String() string {
	switch s.Mode {
	case ModeProxy:
		return "proxy to " + s.Target
	case ModeInMemory:
		return "in-memory"
	case ModeAlternate:
		return fmt.Sprintf("alternate backend %s (prefix %s)", s.Module, s.Prefix)
	case ModeSQLite:
		return "sqlite in " + s.Prefix
	case ModeDefault:
		return "default backend in " + s.Prefix
	}
	return string(s.Mode)
}

// Getter reads option values. *config.Store satisfies it.
type Getter interface {
	String(config.Path) string
	Bool(config.Path) bool
}

// Derive builds the Spec selected by the current option values. The first
// matching rule wins:
//
//  1. proxy target set       → proxy (every other storage option ignored)
//  2. in-memory set          → in-memory
//  3. level-backend set      → alternate-backend, prefix = level-prefix or dir
//  4. sqlite set             → sqlite-adapter in dir
//  5. otherwise              → default-backend in dir
func Derive(g Getter) Spec {
	dir := g.String(config.PathDir)
	if dir == "" {
		dir = config.DefaultDir
	}
	// "data" and "data/" name the same directory.
	dir = filepath.Clean(dir)

	if target := g.String(config.PathProxy); target != "" {
		return Spec{Mode: ModeProxy, Target: target}
	}
	if g.Bool(config.PathInMemory) {
		return Spec{Mode: ModeInMemory}
	}
	if module := g.String(config.PathLevelBackend); module != "" {
		spec := Spec{Mode: ModeAlternate, Module: module}
		if prefix := g.String(config.PathLevelPrefix); prefix != "" {
			spec.Prefix = prefix
		} else {
			spec.Prefix = dir
			spec.Dir = dir
		}
		if module == "redisdown" {
			spec.RedisURL = g.String(config.PathRedisURL)
			if spec.RedisURL == "" {
				spec.RedisURL = config.DefaultRedisURL
			}
		}
		return spec
	}
	if g.Bool(config.PathSQLite) {
		return Spec{Mode: ModeSQLite, Prefix: dir, Dir: dir}
	}
	return Spec{Mode: ModeDefault, Prefix: dir, Dir: dir}
}
