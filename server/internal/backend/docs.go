package backend

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// engine is the raw key-value surface a local storage engine provides.
// docStore layers revisions and tombstones on top of it.
type engine interface {
	createDB(ctx context.Context, db string) error
	dropDB(ctx context.Context, db string) error
	listDBs(ctx context.Context) ([]string, error)
	get(ctx context.Context, db, id string) ([]byte, error)
	put(ctx context.Context, db, id string, value []byte) error
	// scan calls fn for every document of db in ascending id order.
	scan(ctx context.Context, db string, fn func(id string, value []byte) error) error
	close() error
}

// docStore implements Backend over an engine.
type docStore struct {
	name string
	eng  engine

	// mu serializes read-check-write sequences so revision checks are
	// not raced by concurrent writers.
	mu sync.Mutex
}

func newDocStore(name string, eng engine) *docStore {
	return &docStore{name: name, eng: eng}
}

func (s *docStore) Name() string { return s.name }

func (s *docStore) AllDBs(ctx context.Context) ([]string, error) {
	return s.eng.listDBs(ctx)
}

func (s *docStore) CreateDB(ctx context.Context, db string) error {
	if !ValidDBName(db) {
		return fmt.Errorf("%w: %q", ErrInvalidDBName, db)
	}
	return s.eng.createDB(ctx, db)
}

func (s *docStore) DestroyDB(ctx context.Context, db string) error {
	return s.eng.dropDB(ctx, db)
}

func (s *docStore) DBInfo(ctx context.Context, db string) (DBInfo, error) {
	info := DBInfo{DBName: db, Backend: s.name}
	err := s.eng.scan(ctx, db, func(_ string, value []byte) error {
		doc, err := decodeDoc(value)
		if err != nil {
			return err
		}
		if doc.Deleted() {
			info.DocDelCount++
		} else {
			info.DocCount++
		}
		return nil
	})
	if err != nil {
		return DBInfo{}, err
	}
	return info, nil
}

func (s *docStore) Get(ctx context.Context, db, id string) (Doc, error) {
	raw, err := s.eng.get(ctx, db, id)
	if err != nil {
		return nil, err
	}
	doc, err := decodeDoc(raw)
	if err != nil {
		return nil, err
	}
	if doc.Deleted() {
		return nil, ErrNotFound
	}
	return doc, nil
}

func (s *docStore) Put(ctx context.Context, db string, doc Doc) (string, error) {
	id := doc.ID()
	if id == "" {
		return "", ErrMissingID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	gen, err := s.checkRev(ctx, db, id, doc.Rev(), true)
	if err != nil {
		return "", err
	}

	out := make(Doc, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	delete(out, "_deleted")
	return s.write(ctx, db, out, gen)
}

func (s *docStore) Delete(ctx context.Context, db, id, rev string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen, err := s.checkRev(ctx, db, id, rev, false)
	if err != nil {
		return "", err
	}
	return s.write(ctx, db, Doc{"_id": id, "_deleted": true}, gen)
}

func (s *docStore) AllDocs(ctx context.Context, db string) ([]Row, error) {
	rows := []Row{}
	err := s.eng.scan(ctx, db, func(id string, value []byte) error {
		doc, err := decodeDoc(value)
		if err != nil {
			return err
		}
		if doc.Deleted() {
			return nil
		}
		rows = append(rows, Row{ID: id, Key: id, Value: RowValue{Rev: doc.Rev()}})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *docStore) Close() error { return s.eng.close() }

// checkRev compares rev with the stored revision of id and returns the
// generation the next revision builds on. A deleted document may be
// recreated without a revision only when allowRecreate is set.
// Callers must hold s.mu.
func (s *docStore) checkRev(ctx context.Context, db, id, rev string, allowRecreate bool) (int, error) {
	raw, err := s.eng.get(ctx, db, id)
	if errors.Is(err, ErrNotFound) {
		if !allowRecreate {
			return 0, ErrNotFound
		}
		if rev != "" {
			return 0, ErrConflict
		}
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	cur, err := decodeDoc(raw)
	if err != nil {
		return 0, err
	}
	gen := revGeneration(cur.Rev())
	if cur.Deleted() {
		if !allowRecreate {
			return 0, ErrNotFound
		}
		if rev == "" || rev == cur.Rev() {
			return gen, nil
		}
		return 0, ErrConflict
	}
	if rev != cur.Rev() {
		return 0, ErrConflict
	}
	return gen, nil
}

// write stamps doc with the next revision after gen and stores it.
func (s *docStore) write(ctx context.Context, db string, doc Doc, gen int) (string, error) {
	delete(doc, "_rev")
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("backend: encode document: %w", err)
	}
	sum := md5.Sum(body)
	rev := strconv.Itoa(gen+1) + "-" + hex.EncodeToString(sum[:])
	doc["_rev"] = rev

	body, err = json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("backend: encode document: %w", err)
	}
	if err := s.eng.put(ctx, db, doc.ID(), body); err != nil {
		return "", err
	}
	return rev, nil
}

func decodeDoc(raw []byte) (Doc, error) {
	var doc Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("backend: decode document: %w", err)
	}
	return doc, nil
}

// revGeneration returns N for a revision "N-hash", or 0 if rev is malformed.
func revGeneration(rev string) int {
	n, _, ok := strings.Cut(rev, "-")
	if !ok {
		return 0
	}
	gen, err := strconv.Atoi(n)
	if err != nil {
		return 0
	}
	return gen
}
