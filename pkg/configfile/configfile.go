package configfile

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is a parsed config file: section → key → scalar value, mirroring
// CouchDB's ini sections.
//
//	httpd:
//	  port: 5985
//	  bind_address: 0.0.0.0
//	pouchdb_server:
//	  in_memory: true
type File map[string]map[string]any

// Entry is one key of a File.
type Entry struct {
	Section string
	Key     string
	Value   any
	// Removed marks a key present in the old file but not the new one.
	Removed bool
}

// Path returns "section.key".
func (e Entry) Path() string { return e.Section + "." + e.Key }

// Load reads and validates the YAML file at path. An empty file yields an
// empty File.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("configfile: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML config data.
func Parse(data []byte) (File, error) {
	f := File{}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("configfile: parse yaml: %w", err)
	}
	if err := validate(f); err != nil {
		return nil, fmt.Errorf("configfile: %w", err)
	}
	return f, nil
}

func validate(f File) error {
	for sec, keys := range f {
		if sec == "" || strings.Contains(sec, ".") {
			return fmt.Errorf("invalid section name %q", sec)
		}
		for key, v := range keys {
			if key == "" {
				return fmt.Errorf("%s: empty key", sec)
			}
			switch v.(type) {
			case string, bool, int, int64, uint64, float64, nil:
			default:
				return fmt.Errorf("%s.%s: value must be a scalar, got %T", sec, key, v)
			}
		}
	}
	return nil
}

// Entries returns every key in section, then key, order.
func (f File) Entries() []Entry {
	var out []Entry
	for sec, keys := range f {
		for key, v := range keys {
			out = append(out, Entry{Section: sec, Key: key, Value: v})
		}
	}
	sortEntries(out)
	return out
}

// Diff returns the entries of next that are new or changed relative to
// prev, plus a Removed entry for every key only prev has.
func Diff(prev, next File) []Entry {
	var out []Entry
	for _, e := range next.Entries() {
		old, ok := prev.lookup(e.Section, e.Key)
		if !ok || fmt.Sprint(old) != fmt.Sprint(e.Value) {
			out = append(out, e)
		}
	}
	for _, e := range prev.Entries() {
		if _, ok := next.lookup(e.Section, e.Key); !ok {
			out = append(out, Entry{Section: e.Section, Key: e.Key, Removed: true})
		}
	}
	sortEntries(out)
	return out
}

func (f File) lookup(section, key string) (any, bool) {
	keys, ok := f[section]
	if !ok {
		return nil, false
	}
	v, ok := keys[key]
	return v, ok
}

func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].Section != es[j].Section {
			return es[i].Section < es[j].Section
		}
		return es[i].Key < es[j].Key
	})
}
