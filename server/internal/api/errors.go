package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sofadb/sofa/server/internal/backend"
)

// couchError maps a backend error to the status, error and reason CouchDB
// clients expect.
func couchError(err error) (int, errorResponse) {
	switch {
	case errors.Is(err, backend.ErrNotFound):
		return http.StatusNotFound, errorResponse{"not_found", "missing"}
	case errors.Is(err, backend.ErrDBNotFound):
		return http.StatusNotFound, errorResponse{"not_found", "Database does not exist."}
	case errors.Is(err, backend.ErrConflict):
		return http.StatusConflict, errorResponse{"conflict", "Document update conflict."}
	case errors.Is(err, backend.ErrDBExists):
		return http.StatusPreconditionFailed, errorResponse{"file_exists",
			"The database could not be created, the file already exists."}
	case errors.Is(err, backend.ErrInvalidDBName):
		return http.StatusBadRequest, errorResponse{"illegal_database_name",
			"Name: only lowercase characters (a-z), digits (0-9), and any of the characters _, $, (, ), +, -, and / are allowed. Must begin with a letter."}
	case errors.Is(err, backend.ErrMissingID):
		return http.StatusBadRequest, errorResponse{"bad_request", "Document must have an _id."}
	}
	return http.StatusInternalServerError, errorResponse{"internal_server_error", err.Error()}
}

func abortWith(c *gin.Context, err error) {
	code, body := couchError(err)
	if code == http.StatusInternalServerError {
		slog.Error("api: request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
	}
	c.AbortWithStatusJSON(code, body)
}

func abortBadRequest(c *gin.Context, reason string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{"bad_request", reason})
}
