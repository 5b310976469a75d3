package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/sofadb/sofa/pkg/types"
	"github.com/sofadb/sofa/server/internal/api"
	"github.com/sofadb/sofa/server/internal/backend"
	"github.com/sofadb/sofa/server/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// --- test helpers -----------------------------------------------------------

// fakeBackends hands out one in-memory backend and counts outstanding
// acquisitions.
type fakeBackends struct {
	b    backend.Backend
	held atomic.Int32
	max  atomic.Int32
}

func (f *fakeBackends) Acquire() (backend.Backend, func(), error) {
	if f.b == nil {
		return nil, nil, io.ErrUnexpectedEOF
	}
	n := f.held.Add(1)
	if n > f.max.Load() {
		f.max.Store(n)
	}
	return f.b, func() { f.held.Add(-1) }, nil
}

type fakeStatus struct{}

func (fakeStatus) Status() types.Status {
	return types.Status{
		UUID:     "0123456789abcdef",
		Listener: types.ListenerStatus{State: "listening", Host: "127.0.0.1", Port: 5984},
		Backend:  types.BackendStatus{Active: true, Mode: "in-memory"},
	}
}

type fixture struct {
	h        http.Handler
	store    *config.Store
	backends *fakeBackends
}

func newFixture(t *testing.T, adminKey string) *fixture {
	t.Helper()
	mem, err := backend.OpenMemory(context.Background(), backend.Options{})
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { mem.Close() })

	st := config.NewStore()
	if err := config.NewRegistry(st).Register(config.Options()...); err != nil {
		t.Fatal(err)
	}
	fb := &fakeBackends{b: mem}
	h := api.New(api.Deps{
		Backends: fb,
		Config:   st,
		Status:   fakeStatus{},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "sofa_up 1\n") //nolint:errcheck
		}),
		AdminKey: adminKey,
	})
	return &fixture{h: h, store: st, backends: fb}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

func expectCode(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status: got %d, want %d (body: %s)", rr.Code, want, rr.Body.String())
	}
}

// --- server routes ----------------------------------------------------------

func TestWelcome(t *testing.T) {
	f := newFixture(t, "")
	rr := f.do(t, http.MethodGet, "/", "")
	expectCode(t, rr, http.StatusOK)

	var resp api.WelcomeResponse
	decode(t, rr, &resp)
	if resp.CouchDB != "Welcome" || resp.UUID != "0123456789abcdef" || resp.Vendor.Name != "sofa" {
		t.Errorf("welcome: %+v", resp)
	}
}

func TestUtilsAndStatus(t *testing.T) {
	f := newFixture(t, "")

	rr := f.do(t, http.MethodGet, "/_utils/", "")
	expectCode(t, rr, http.StatusOK)
	if !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/html") {
		t.Errorf("content-type: %s", rr.Header().Get("Content-Type"))
	}

	rr = f.do(t, http.MethodGet, "/_sofa/status", "")
	expectCode(t, rr, http.StatusOK)
	var st types.Status
	decode(t, rr, &st)
	if st.Listener.State != "listening" || st.Backend.Mode != "in-memory" {
		t.Errorf("status: %+v", st)
	}

	rr = f.do(t, http.MethodGet, "/_sofa/metrics", "")
	expectCode(t, rr, http.StatusOK)
	if rr.Body.String() != "sofa_up 1\n" {
		t.Errorf("metrics: %q", rr.Body.String())
	}
}

// --- databases and documents ------------------------------------------------

func TestDatabaseLifecycle(t *testing.T) {
	f := newFixture(t, "")

	expectCode(t, f.do(t, http.MethodPut, "/widgets", ""), http.StatusCreated)
	expectCode(t, f.do(t, http.MethodPut, "/widgets", ""), http.StatusPreconditionFailed)
	expectCode(t, f.do(t, http.MethodPut, "/Bad_Name", ""), http.StatusBadRequest)

	rr := f.do(t, http.MethodGet, "/_all_dbs", "")
	expectCode(t, rr, http.StatusOK)
	var dbs []string
	decode(t, rr, &dbs)
	if len(dbs) != 1 || dbs[0] != "widgets" {
		t.Errorf("_all_dbs: %v", dbs)
	}

	rr = f.do(t, http.MethodGet, "/widgets", "")
	expectCode(t, rr, http.StatusOK)
	var info backend.DBInfo
	decode(t, rr, &info)
	if info.DBName != "widgets" || info.DocCount != 0 {
		t.Errorf("info: %+v", info)
	}

	expectCode(t, f.do(t, http.MethodDelete, "/widgets", ""), http.StatusOK)
	rr = f.do(t, http.MethodGet, "/widgets", "")
	expectCode(t, rr, http.StatusNotFound)
	var e map[string]string
	decode(t, rr, &e)
	if e["error"] != "not_found" {
		t.Errorf("error body: %v", e)
	}
}

func TestDocumentLifecycle(t *testing.T) {
	f := newFixture(t, "")
	expectCode(t, f.do(t, http.MethodPut, "/widgets", ""), http.StatusCreated)

	rr := f.do(t, http.MethodPut, "/widgets/w1", `{"color":"red"}`)
	expectCode(t, rr, http.StatusCreated)
	var first api.OKResponse
	decode(t, rr, &first)
	if !first.OK || first.ID != "w1" || !strings.HasPrefix(first.Rev, "1-") {
		t.Fatalf("create: %+v", first)
	}

	// Stale or missing revision conflicts.
	expectCode(t, f.do(t, http.MethodPut, "/widgets/w1", `{"color":"blue"}`), http.StatusConflict)

	rr = f.do(t, http.MethodPut, "/widgets/w1?rev="+first.Rev, `{"color":"blue"}`)
	expectCode(t, rr, http.StatusCreated)
	var second api.OKResponse
	decode(t, rr, &second)
	if !strings.HasPrefix(second.Rev, "2-") {
		t.Errorf("update rev: %s", second.Rev)
	}

	rr = f.do(t, http.MethodGet, "/widgets/w1", "")
	expectCode(t, rr, http.StatusOK)
	var doc map[string]any
	decode(t, rr, &doc)
	if doc["color"] != "blue" || doc["_rev"] != second.Rev {
		t.Errorf("doc: %v", doc)
	}

	rr = f.do(t, http.MethodPost, "/widgets", `{"color":"green"}`)
	expectCode(t, rr, http.StatusCreated)
	var posted api.OKResponse
	decode(t, rr, &posted)
	if len(posted.ID) != 32 {
		t.Errorf("generated id: %q", posted.ID)
	}

	rr = f.do(t, http.MethodGet, "/widgets/_all_docs", "")
	expectCode(t, rr, http.StatusOK)
	var all api.AllDocsResponse
	decode(t, rr, &all)
	if all.TotalRows != 2 || len(all.Rows) != 2 {
		t.Errorf("_all_docs: %+v", all)
	}

	expectCode(t, f.do(t, http.MethodDelete, "/widgets/w1?rev="+first.Rev, ""), http.StatusConflict)
	expectCode(t, f.do(t, http.MethodDelete, "/widgets/w1?rev="+second.Rev, ""), http.StatusOK)
	expectCode(t, f.do(t, http.MethodGet, "/widgets/w1", ""), http.StatusNotFound)

	expectCode(t, f.do(t, http.MethodPut, "/widgets/w2", `[1,2]`), http.StatusBadRequest)

	if n := f.backends.held.Load(); n != 0 {
		t.Errorf("backend acquisitions not released: %d", n)
	}
	if f.backends.max.Load() != 1 {
		t.Errorf("max concurrent acquisitions: %d", f.backends.max.Load())
	}
}

func TestNoActiveBackend(t *testing.T) {
	f := newFixture(t, "")
	f.backends.b = nil
	rr := f.do(t, http.MethodGet, "/_all_dbs", "")
	expectCode(t, rr, http.StatusServiceUnavailable)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, "")

	req := httptest.NewRequest(http.MethodOptions, "/widgets", nil)
	req.Header.Set("Origin", "http://app.example")
	req.Header.Set("Access-Control-Request-Method", "PUT")
	rr := httptest.NewRecorder()
	f.h.ServeHTTP(rr, req)

	expectCode(t, rr, http.StatusNoContent)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://app.example" {
		t.Errorf("allow-origin: %q", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "PUT") {
		t.Errorf("allow-methods: %q", got)
	}

	rr = f.do(t, http.MethodGet, "/", "")
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("CORS headers without Origin: %q", got)
	}
}

// --- /_config ---------------------------------------------------------------

func TestConfigRead(t *testing.T) {
	f := newFixture(t, "")

	rr := f.do(t, http.MethodGet, "/_config", "")
	expectCode(t, rr, http.StatusOK)
	var all map[string]map[string]string
	decode(t, rr, &all)
	if all["httpd"]["port"] != "5984" || all["httpd"]["bind_address"] != "127.0.0.1" {
		t.Errorf("httpd section: %v", all["httpd"])
	}
	if _, ok := all["pouchdb_server"]["proxy"]; ok {
		t.Error("unset proxy reported")
	}

	rr = f.do(t, http.MethodGet, "/_config/pouchdb_server", "")
	expectCode(t, rr, http.StatusOK)
	var sec map[string]string
	decode(t, rr, &sec)
	if sec["in_memory"] != "false" || sec["no-stdout-logs"] != "false" {
		t.Errorf("pouchdb_server: %v", sec)
	}

	rr = f.do(t, http.MethodGet, "/_config/httpd/port", "")
	expectCode(t, rr, http.StatusOK)
	var port string
	decode(t, rr, &port)
	if port != "5984" {
		t.Errorf("port: %q", port)
	}

	expectCode(t, f.do(t, http.MethodGet, "/_config/pouchdb_server/proxy", ""), http.StatusNotFound)
}

func TestConfigWrite_FiresHandlersAndReturnsOld(t *testing.T) {
	f := newFixture(t, "")

	var got []any
	f.store.On(config.PathPort, func(v any) { got = append(got, v) })

	rr := f.do(t, http.MethodPut, "/_config/httpd/port", `"5985"`)
	expectCode(t, rr, http.StatusOK)
	var old string
	decode(t, rr, &old)
	if old != "5984" {
		t.Errorf("old value: %q", old)
	}
	if len(got) != 1 || got[0] != "5985" {
		t.Errorf("handler calls: %v", got)
	}
	if f.store.String(config.PathPort) != "5985" {
		t.Errorf("stored: %v", f.store.Get(config.PathPort))
	}

	// Unknown keys are stored too, as CouchDB does.
	rr = f.do(t, http.MethodPut, "/_config/custom/flag", `true`)
	expectCode(t, rr, http.StatusOK)
	decode(t, rr, &old)
	if old != "" || !f.store.Bool("custom.flag") {
		t.Errorf("custom.flag: old %q, now %v", old, f.store.Get("custom.flag"))
	}

	expectCode(t, f.do(t, http.MethodPut, "/_config/httpd/port", `{"a":1}`), http.StatusBadRequest)
	expectCode(t, f.do(t, http.MethodPut, "/_config/httpd/port", `not json`), http.StatusBadRequest)
}

func TestConfigWrite_ConcurrentWritesReturnDistinctOld(t *testing.T) {
	f := newFixture(t, "")

	const n = 20
	olds := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPut, "/_config/custom/counter", strings.NewReader(fmt.Sprintf(`"v%d"`, i)))
			rr := httptest.NewRecorder()
			f.h.ServeHTTP(rr, req)
			var old string
			if err := json.NewDecoder(rr.Body).Decode(&old); err != nil {
				old = "decode error: " + err.Error()
			}
			olds <- old
		}(i)
	}
	wg.Wait()
	close(olds)

	seen := map[string]int{f.store.String("custom.counter"): 1}
	for old := range olds {
		seen[old]++
	}
	if seen[""] != 1 {
		t.Errorf("unset old value returned %d times", seen[""])
	}
	for i := 0; i < n; i++ {
		if v := fmt.Sprintf("v%d", i); seen[v] != 1 {
			t.Errorf("%s seen %d times: %v", v, seen[v], seen)
		}
	}
}

func TestConfigWrite_RequiresAdminKey(t *testing.T) {
	f := newFixture(t, "secret")

	expectCode(t, f.do(t, http.MethodPut, "/_config/httpd/port", `"5985"`), http.StatusUnauthorized)
	if f.store.String(config.PathPort) != "5984" {
		t.Error("unauthorized write was applied")
	}

	req := httptest.NewRequest(http.MethodPut, "/_config/httpd/port", strings.NewReader(`"5985"`))
	req.Header.Set("X-Sofa-Admin-Key", "secret")
	rr := httptest.NewRecorder()
	f.h.ServeHTTP(rr, req)
	expectCode(t, rr, http.StatusOK)

	// Reads stay open.
	expectCode(t, f.do(t, http.MethodGet, "/_config/httpd/port", ""), http.StatusOK)
}
