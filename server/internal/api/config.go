package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"github.com/sofadb/sofa/server/internal/config"
)

// configValue renders the value at p the way /_config reports it. ok is
// false for unset and nil values.
func (h *Handler) configValue(p config.Path) (string, bool) {
	v := h.deps.Config.Get(p)
	if v == nil || config.IsUnset(v) {
		return "", false
	}
	return h.deps.Config.String(p), true
}

// configSections groups every known value by section.
func (h *Handler) configSections() map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, p := range h.deps.Config.Paths() {
		v, ok := h.configValue(p)
		if !ok {
			continue
		}
		sec := p.Section()
		if out[sec] == nil {
			out[sec] = make(map[string]string)
		}
		out[sec][p.Key()] = v
	}
	return out
}

func (h *Handler) configAll(c *gin.Context) {
	c.JSON(http.StatusOK, h.configSections())
}

func (h *Handler) configSection(c *gin.Context) {
	sec, ok := h.configSections()[c.Param("section")]
	if !ok {
		sec = map[string]string{}
	}
	c.JSON(http.StatusOK, sec)
}

func (h *Handler) configGet(c *gin.Context) {
	v, ok := h.configValue(config.Join(c.Param("section"), c.Param("key")))
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{"not_found", "unknown_config_value"})
		return
	}
	c.JSON(http.StatusOK, v)
}

// configPut writes the JSON body to the option and answers with the
// previous value. Handlers bound to the path only queue their work, so the
// response is sent before a rebind drains this connection.
func (h *Handler) configPut(c *gin.Context) {
	var value any
	if err := json.NewDecoder(c.Request.Body).Decode(&value); err != nil {
		abortBadRequest(c, "request body must be a JSON value")
		return
	}
	switch value.(type) {
	case string, bool, float64, nil:
	default:
		abortBadRequest(c, "config values must be JSON scalars")
		return
	}

	p := config.Join(c.Param("section"), c.Param("key"))
	old := h.deps.Config.Swap(p, value)
	slog.Info("api: config written", "path", string(p), "value", value)
	if old == nil || config.IsUnset(old) {
		c.JSON(http.StatusOK, "")
		return
	}
	c.JSON(http.StatusOK, cast.ToString(old))
}
