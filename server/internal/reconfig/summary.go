package reconfig

import (
	"fmt"
	"path/filepath"

	"github.com/sofadb/sofa/server/internal/config"
	"github.com/sofadb/sofa/server/internal/dbswitch"
	"github.com/sofadb/sofa/server/internal/listener"
)

// Summary returns the startup lines for a server listening on url.
func Summary(st *config.Store, url string) []string {
	lines := []string{fmt.Sprintf("sofa-server has started on %s", url)}

	spec := dbswitch.Derive(st)
	switch spec.Mode {
	case dbswitch.ModeProxy:
		lines = append(lines, fmt.Sprintf("database requests are proxied to %s", spec.Target))
	case dbswitch.ModeInMemory:
		lines = append(lines, "databases are kept in memory")
	case dbswitch.ModeSQLite:
		lines = append(lines, "databases are stored in sqlite")
	}

	if dir := st.String(config.PathDir); dir != "" && filepath.Clean(dir) != filepath.Clean(config.DefaultDir) {
		lines = append(lines, fmt.Sprintf("database files are saved to %s", dir))
	}
	if module := st.String(config.PathLevelBackend); module != "" {
		lines = append(lines, fmt.Sprintf("using alternate backend %s", module))
	}
	if prefix := st.String(config.PathLevelPrefix); prefix != "" {
		lines = append(lines, fmt.Sprintf("databases are created with prefix %s", prefix))
	}

	lines = append(lines, fmt.Sprintf("navigate to %s%s for the admin UI", url, listener.AdminPath))
	return lines
}
