package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sofadb/sofa/pkg/configfile"
	"github.com/sofadb/sofa/pkg/types"
	"github.com/sofadb/sofa/server/internal/api"
	"github.com/sofadb/sofa/server/internal/auth"
	"github.com/sofadb/sofa/server/internal/backend"
	"github.com/sofadb/sofa/server/internal/config"
	"github.com/sofadb/sofa/server/internal/dbswitch"
	"github.com/sofadb/sofa/server/internal/listener"
	"github.com/sofadb/sofa/server/internal/logging"
	"github.com/sofadb/sofa/server/internal/logtail"
	"github.com/sofadb/sofa/server/internal/metrics"
	"github.com/sofadb/sofa/server/internal/reconfig"
	"github.com/sofadb/sofa/server/internal/ws"
)

// statusFunc adapts a func to api.StatusProvider and ws.Provider.
type statusFunc func() types.Status

func (f statusFunc) Status() types.Status { return f() }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	st := config.NewStore()
	reg := config.NewRegistry(st)
	if err := reg.Register(config.Options()...); err != nil {
		panic(err)
	}

	cmd := &cobra.Command{
		Use:     "sofa-server",
		Short:   "CouchDB-compatible database server with live reconfiguration",
		Version: api.Version,
		Long: `sofa-server serves CouchDB-style databases over HTTP.

Every option can be changed while the server runs, through PUT
/_config/{section}/{key} or by editing the --config file: a port or host
change rebinds the listener, a storage change swaps the backend and a log
change restarts the console mirror.

Options are read from, lowest precedence first: defaults, the --config
file, SOFA_<OPTION> environment variables (and PORT), flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, v, st, reg)
		},
	}

	fs := cmd.Flags()
	declareFlags(fs, v, reg.Options())
	fs.String("config", "", "YAML config file, watched for changes")
	fs.String("bind-error-policy", "continue", `what to do when the listener cannot bind for a reason other than address in use ("continue" or "exit")`)
	fs.String("admin-key-env", "SOFA_ADMIN_KEY", "environment variable holding the key required for /_config writes")
	return cmd
}

func run(cmd *cobra.Command, v *viper.Viper, st *config.Store, reg *config.Registry) error {
	stdout := logtail.NewConsole(os.Stdout)
	stderr := logtail.NewConsole(os.Stderr)
	gin.SetMode(gin.ReleaseMode)

	configPath, _ := cmd.Flags().GetString("config")
	policyName, _ := cmd.Flags().GetString("bind-error-policy")
	adminKeyEnv, _ := cmd.Flags().GetString("admin-key-env")

	policy, err := listener.ParsePolicy(policyName)
	if err != nil {
		stderr.Errorf("Fatal: %v", err)
		return err
	}

	var file configfile.File
	if configPath != "" {
		f, err := configfile.Load(configPath)
		if err != nil {
			stderr.Errorf("Fatal: %v", err)
			return err
		}
		file = f
	}
	pinned := applyLayers(st, reg, v, file)

	logs := logging.New(st.String(config.PathLogFile), st.String(config.PathLogLevel))
	slog.SetDefault(logs.Logger())
	slog.Info("sofa-server: starting", "version", api.Version, "config", configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var engine *reconfig.Engine
	status := statusFunc(func() types.Status { return engine.Status() })

	tail := logtail.New(st, stdout)
	sw := dbswitch.New(backend.Builtin())
	m := metrics.New()
	hub := ws.New(status, 5*time.Second)

	handler := api.New(api.Deps{
		Backends:    sw,
		Config:      st,
		Status:      status,
		Metrics:     m.Handler(),
		Stream:      hub,
		AdminKey:    os.Getenv(adminKeyEnv),
		AdminHeader: auth.DefaultHeader,
	})

	l := listener.New(listener.Config{
		Handler:      handler,
		Ready:        tail.Ready,
		StopTail:     tail.Stop,
		StartTail:    tail.Restart,
		Stderr:       stderr,
		Policy:       policy,
		DrainTimeout: reconfig.DrainTimeout(st),
	})

	engine = reconfig.New(ctx, reconfig.Components{
		Store:    st,
		Registry: reg,
		Listener: l,
		Switcher: sw,
		Tail:     tail,
		Log:      logs,
	})

	m.Observe(l, sw, tail, reg, st)
	l.OnTransition(func(_, to listener.State) {
		if to == listener.Draining {
			hub.Disconnect()
		}
		hub.Notify(ws.EventListener)
	})
	sw.OnSwap(func(dbswitch.Spec, error) { hub.Notify(ws.EventBackend) })
	tail.OnRestart(func(logtail.Status, error) { hub.Notify(ws.EventTail) })

	engine.Bind()
	go hub.Run(ctx)

	if err := engine.Start(); err != nil {
		var berr *listener.BindError
		if !errors.As(err, &berr) {
			stderr.Errorf("Fatal: %v", err)
			return err
		}
		// Already reported. Keep running: a later config file change can
		// still rebind.
	}

	if configPath != "" {
		go func() {
			prev := file
			err := configfile.Watch(ctx, configPath, func(next configfile.File) {
				applyReload(st, pinned, prev, next)
				prev = next
			})
			if err != nil {
				slog.Error("sofa-server: config watcher stopped", "err", err)
			}
		}()
	}

	<-ctx.Done()
	// Interrupts end the process at once: the listener is not drained and
	// the log tail is not flushed.
	slog.Info("sofa-server: interrupted, exiting")
	os.Exit(0)
	return nil
}
