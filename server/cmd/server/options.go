package main

import (
	"log/slog"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sofadb/sofa/pkg/configfile"
	"github.com/sofadb/sofa/server/internal/config"
)

const envPrefix = "SOFA_"

// envName maps an option name to its environment variable:
// "level-backend" → "SOFA_LEVEL_BACKEND".
func envName(name string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// declareFlags adds one flag per option to fs and binds the flag and the
// option's environment variable to the option name in v.
func declareFlags(fs *pflag.FlagSet, v *viper.Viper, opts []config.Option) {
	for _, opt := range opts {
		if def, ok := opt.Default.(bool); ok {
			fs.Bool(opt.Name, def, opt.Usage)
		} else {
			def := ""
			if opt.Default != nil {
				def = cast.ToString(opt.Default)
			}
			// Strings even for the port, so a bad value reaches the
			// non-numeric port fallback instead of failing flag parsing.
			fs.String(opt.Name, def, opt.Usage)
		}
		_ = v.BindPFlag(opt.Name, fs.Lookup(opt.Name))

		if opt.Name == "port" {
			_ = v.BindEnv(opt.Name, envName(opt.Name), "PORT")
		} else {
			_ = v.BindEnv(opt.Name, envName(opt.Name))
		}
	}
}

// applyLayers writes the config file, then every option set through the
// environment or a flag, to the store. Handlers must not be bound yet.
// It returns the paths set by environment or flag, which later file
// reloads must not override.
func applyLayers(st *config.Store, reg *config.Registry, v *viper.Viper, file configfile.File) map[config.Path]bool {
	for _, e := range file.Entries() {
		st.Set(config.Path(e.Path()), e.Value)
	}

	pinned := make(map[config.Path]bool)
	for _, opt := range reg.Options() {
		if !v.IsSet(opt.Name) {
			continue
		}
		if err := reg.Apply(opt.Name, v.Get(opt.Name)); err != nil {
			slog.Warn("sofa-server: apply option", "option", opt.Name, "err", err)
			continue
		}
		pinned[opt.Path] = true
	}
	return pinned
}

// applyReload writes the keys that changed between two versions of the
// config file. Removed keys are written as nil, which every option treats
// as its default.
func applyReload(st *config.Store, pinned map[config.Path]bool, prev, next configfile.File) {
	for _, e := range configfile.Diff(prev, next) {
		p := config.Path(e.Path())
		if pinned[p] {
			slog.Info("sofa-server: config file change ignored, set by flag or environment", "path", string(p))
			continue
		}
		if e.Removed {
			st.Set(p, nil)
			continue
		}
		st.Set(p, e.Value)
	}
}
