package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeCouch serves the CouchDB routes the proxy engine uses, backed by an
// in-memory engine.
func fakeCouch(t *testing.T) *httptest.Server {
	t.Helper()
	store, _ := OpenMemory(context.Background(), Options{})

	reply := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	fail := func(w http.ResponseWriter, err error) {
		switch {
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrDBNotFound):
			reply(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		case errors.Is(err, ErrConflict):
			reply(w, http.StatusConflict, map[string]string{"error": "conflict"})
		case errors.Is(err, ErrDBExists):
			reply(w, http.StatusPreconditionFailed, map[string]string{"error": "file_exists"})
		default:
			reply(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /_all_dbs", func(w http.ResponseWriter, r *http.Request) {
		dbs, _ := store.AllDBs(r.Context())
		reply(w, http.StatusOK, dbs)
	})
	mux.HandleFunc("PUT /{db}", func(w http.ResponseWriter, r *http.Request) {
		if err := store.CreateDB(r.Context(), r.PathValue("db")); err != nil {
			fail(w, err)
			return
		}
		reply(w, http.StatusCreated, map[string]bool{"ok": true})
	})
	mux.HandleFunc("DELETE /{db}", func(w http.ResponseWriter, r *http.Request) {
		if err := store.DestroyDB(r.Context(), r.PathValue("db")); err != nil {
			fail(w, err)
			return
		}
		reply(w, http.StatusOK, map[string]bool{"ok": true})
	})
	mux.HandleFunc("GET /{db}", func(w http.ResponseWriter, r *http.Request) {
		info, err := store.DBInfo(r.Context(), r.PathValue("db"))
		if err != nil {
			fail(w, err)
			return
		}
		reply(w, http.StatusOK, info)
	})
	mux.HandleFunc("GET /{db}/_all_docs", func(w http.ResponseWriter, r *http.Request) {
		rows, err := store.AllDocs(r.Context(), r.PathValue("db"))
		if err != nil {
			fail(w, err)
			return
		}
		reply(w, http.StatusOK, map[string]any{"total_rows": len(rows), "rows": rows})
	})
	mux.HandleFunc("GET /{db}/{id}", func(w http.ResponseWriter, r *http.Request) {
		doc, err := store.Get(r.Context(), r.PathValue("db"), r.PathValue("id"))
		if err != nil {
			fail(w, err)
			return
		}
		reply(w, http.StatusOK, doc)
	})
	mux.HandleFunc("PUT /{db}/{id}", func(w http.ResponseWriter, r *http.Request) {
		var doc Doc
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			reply(w, http.StatusBadRequest, map[string]string{"error": "bad_request"})
			return
		}
		doc["_id"] = r.PathValue("id")
		rev, err := store.Put(r.Context(), r.PathValue("db"), doc)
		if err != nil {
			fail(w, err)
			return
		}
		reply(w, http.StatusCreated, writeResult{OK: true, ID: doc.ID(), Rev: rev})
	})
	mux.HandleFunc("DELETE /{db}/{id}", func(w http.ResponseWriter, r *http.Request) {
		rev, err := store.Delete(r.Context(), r.PathValue("db"), r.PathValue("id"), r.URL.Query().Get("rev"))
		if err != nil {
			fail(w, err)
			return
		}
		reply(w, http.StatusOK, writeResult{OK: true, ID: r.PathValue("id"), Rev: rev})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestProxy_ForwardsOperations(t *testing.T) {
	ctx := context.Background()
	srv := fakeCouch(t)

	b, err := OpenProxy(ctx, Options{Target: srv.URL + "/"})
	if err != nil {
		t.Fatalf("OpenProxy: %v", err)
	}
	defer b.Close()

	if err := b.CreateDB(ctx, "remote"); err != nil {
		t.Fatalf("CreateDB: %v", err)
	}
	if err := b.CreateDB(ctx, "remote"); !errors.Is(err, ErrDBExists) {
		t.Errorf("duplicate CreateDB: got %v, want ErrDBExists", err)
	}

	rev, err := b.Put(ctx, "remote", Doc{"_id": "doc1", "k": "v"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasPrefix(rev, "1-") {
		t.Errorf("rev: got %q", rev)
	}
	if _, err := b.Put(ctx, "remote", Doc{"_id": "doc1"}); !errors.Is(err, ErrConflict) {
		t.Errorf("stale Put: got %v, want ErrConflict", err)
	}

	doc, err := b.Get(ctx, "remote", "doc1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc["k"] != "v" || doc.Rev() != rev {
		t.Errorf("Get: got %v", doc)
	}

	rows, err := b.AllDocs(ctx, "remote")
	if err != nil {
		t.Fatalf("AllDocs: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "doc1" {
		t.Errorf("AllDocs: got %+v", rows)
	}

	info, err := b.DBInfo(ctx, "remote")
	if err != nil {
		t.Fatalf("DBInfo: %v", err)
	}
	if info.DocCount != 1 || info.Backend != "proxy" {
		t.Errorf("DBInfo: got %+v", info)
	}

	if _, err := b.Delete(ctx, "remote", "doc1", rev); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := b.Get(ctx, "remote", "doc1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get deleted: got %v, want ErrNotFound", err)
	}

	dbs, err := b.AllDBs(ctx)
	if err != nil {
		t.Fatalf("AllDBs: %v", err)
	}
	if len(dbs) != 1 || dbs[0] != "remote" {
		t.Errorf("AllDBs: got %v", dbs)
	}
	if err := b.DestroyDB(ctx, "remote"); err != nil {
		t.Fatalf("DestroyDB: %v", err)
	}
	if err := b.DestroyDB(ctx, "remote"); !errors.Is(err, ErrDBNotFound) {
		t.Errorf("second DestroyDB: got %v, want ErrDBNotFound", err)
	}
}

func TestProxy_RejectsBadTarget(t *testing.T) {
	for _, target := range []string{"", "ftp://example.com", "://bad"} {
		if _, err := OpenProxy(context.Background(), Options{Target: target}); err == nil {
			t.Errorf("OpenProxy(%q): expected error", target)
		}
	}
}

func TestRegistry_Resolve(t *testing.T) {
	r := Builtin()

	for _, name := range []string{"memdown", "boltdown", "sqldown", "redisdown"} {
		if _, err := r.Resolve(name); err != nil {
			t.Errorf("Resolve(%s): %v", name, err)
		}
	}

	_, err := r.Resolve("leveldown")
	var rerr *ResolutionError
	if !errors.As(err, &rerr) {
		t.Fatalf("Resolve(leveldown): got %v, want *ResolutionError", err)
	}
	if rerr.Name != "leveldown" || len(rerr.Known) != 4 {
		t.Errorf("ResolutionError: got %+v", rerr)
	}
	if !strings.Contains(err.Error(), "memdown") {
		t.Errorf("error should list available modules: %v", err)
	}
}
