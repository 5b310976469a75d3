package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sofadb/sofa/pkg/types"
	"github.com/sofadb/sofa/server/internal/auth"
	"github.com/sofadb/sofa/server/internal/backend"
	"github.com/sofadb/sofa/server/internal/config"
)

// Version is reported by GET /.
const Version = "0.4.0"

const backendKey = "sofa.backend"

// Backends hands out the active backend for the duration of one request.
// *dbswitch.Switcher satisfies it.
type Backends interface {
	Acquire() (backend.Backend, func(), error)
}

// StatusProvider returns the reconfiguration status. *reconfig.Engine
// satisfies it.
type StatusProvider interface {
	Status() types.Status
}

// Deps are the collaborators the API serves from.
type Deps struct {
	Backends Backends
	Config   *config.Store
	Status   StatusProvider

	// Metrics and Stream are mounted under /_sofa when set.
	Metrics http.Handler
	Stream  http.Handler

	// AdminKey guards /_config writes. Empty disables the check.
	AdminKey    string
	AdminHeader string
}

// Handler serves the CouchDB subset plus the /_config and /_sofa
// endpoints.
type Handler struct {
	deps   Deps
	engine *gin.Engine
}

// New builds the router. gin's mode is left to the caller.
func New(d Deps) http.Handler {
	h := &Handler{deps: d, engine: gin.New()}
	r := h.engine
	r.Use(gin.Recovery(), requestLog(), cors())

	r.GET("/", h.welcome)
	r.GET("/_all_dbs", h.withBackend, h.allDBs)
	r.GET("/_utils", h.utils)
	r.GET("/_utils/", h.utils)

	r.GET("/_config", h.configAll)
	r.GET("/_config/:section", h.configSection)
	r.GET("/_config/:section/:key", h.configGet)
	r.PUT("/_config/:section/:key", auth.APIKey(d.AdminHeader, d.AdminKey), h.configPut)

	r.GET("/_sofa/status", h.status)
	if d.Metrics != nil {
		r.GET("/_sofa/metrics", gin.WrapH(d.Metrics))
	}
	if d.Stream != nil {
		r.GET("/_sofa/stream", gin.WrapH(d.Stream))
	}

	db := r.Group("/:db", h.withBackend)
	db.PUT("", h.createDB)
	db.GET("", h.dbInfo)
	db.DELETE("", h.destroyDB)
	db.POST("", h.postDoc)
	db.GET("/_all_docs", h.allDocs)
	db.GET("/:docid", h.getDoc)
	db.PUT("/:docid", h.putDoc)
	db.DELETE("/:docid", h.deleteDoc)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.engine.ServeHTTP(w, r)
}

// --- middleware -------------------------------------------------------------

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("api: request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// withBackend pins the active backend for the whole request. A swap during
// the request leaves this request on the instance it started with.
func (h *Handler) withBackend(c *gin.Context) {
	b, release, err := h.deps.Backends.Acquire()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{
			"service_unavailable", "no storage backend is active",
		})
		return
	}
	defer release()
	c.Set(backendKey, b)
	c.Next()
}

func backendOf(c *gin.Context) backend.Backend {
	return c.MustGet(backendKey).(backend.Backend)
}

// --- server routes ----------------------------------------------------------

func (h *Handler) welcome(c *gin.Context) {
	id := ""
	if h.deps.Status != nil {
		id = h.deps.Status.Status().UUID
	}
	c.JSON(http.StatusOK, WelcomeResponse{
		CouchDB: "Welcome",
		Version: Version,
		UUID:    id,
		Vendor:  Vendor{Name: "sofa", Version: Version},
	})
}

func (h *Handler) allDBs(c *gin.Context) {
	dbs, err := backendOf(c).AllDBs(c.Request.Context())
	if err != nil {
		abortWith(c, err)
		return
	}
	if dbs == nil {
		dbs = []string{}
	}
	c.JSON(http.StatusOK, dbs)
}

const utilsPage = `<!DOCTYPE html>
<html><head><title>sofa</title></head>
<body><h1>sofa</h1><p>Admin UI. See <a href="/_sofa/status">/_sofa/status</a> for live configuration status.</p></body>
</html>
`

func (h *Handler) utils(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(utilsPage))
}

func (h *Handler) status(c *gin.Context) {
	if h.deps.Status == nil {
		c.JSON(http.StatusOK, types.Status{GeneratedAt: time.Now().UTC()})
		return
	}
	c.JSON(http.StatusOK, h.deps.Status.Status())
}

// --- database routes --------------------------------------------------------

func (h *Handler) createDB(c *gin.Context) {
	if err := backendOf(c).CreateDB(c.Request.Context(), c.Param("db")); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, OKResponse{OK: true})
}

func (h *Handler) dbInfo(c *gin.Context) {
	info, err := backendOf(c).DBInfo(c.Request.Context(), c.Param("db"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handler) destroyDB(c *gin.Context) {
	if err := backendOf(c).DestroyDB(c.Request.Context(), c.Param("db")); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, OKResponse{OK: true})
}

func (h *Handler) allDocs(c *gin.Context) {
	rows, err := backendOf(c).AllDocs(c.Request.Context(), c.Param("db"))
	if err != nil {
		abortWith(c, err)
		return
	}
	out := AllDocsResponse{TotalRows: len(rows), Rows: make([]Row, 0, len(rows))}
	for _, r := range rows {
		out.Rows = append(out.Rows, Row{ID: r.ID, Key: r.Key, Value: RowValue{Rev: r.Value.Rev}})
	}
	c.JSON(http.StatusOK, out)
}

// --- document routes --------------------------------------------------------

func (h *Handler) postDoc(c *gin.Context) {
	doc, ok := readDoc(c)
	if !ok {
		return
	}
	if doc.ID() == "" {
		doc["_id"] = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	h.write(c, doc)
}

func (h *Handler) putDoc(c *gin.Context) {
	doc, ok := readDoc(c)
	if !ok {
		return
	}
	doc["_id"] = c.Param("docid")
	if rev := c.Query("rev"); rev != "" && doc.Rev() == "" {
		doc["_rev"] = rev
	}
	h.write(c, doc)
}

func (h *Handler) write(c *gin.Context, doc backend.Doc) {
	rev, err := backendOf(c).Put(c.Request.Context(), c.Param("db"), doc)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, OKResponse{OK: true, ID: doc.ID(), Rev: rev})
}

func (h *Handler) getDoc(c *gin.Context) {
	doc, err := backendOf(c).Get(c.Request.Context(), c.Param("db"), c.Param("docid"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *Handler) deleteDoc(c *gin.Context) {
	rev := c.Query("rev")
	if rev == "" {
		rev = c.GetHeader("If-Match")
	}
	id := c.Param("docid")
	newRev, err := backendOf(c).Delete(c.Request.Context(), c.Param("db"), id, rev)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, OKResponse{OK: true, ID: id, Rev: newRev})
}

func readDoc(c *gin.Context) (backend.Doc, bool) {
	var doc backend.Doc
	if err := json.NewDecoder(c.Request.Body).Decode(&doc); err != nil || doc == nil {
		abortBadRequest(c, "Document must be a JSON object")
		return nil, false
	}
	return doc, true
}
