package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sofadb/sofa/ctl/internal/client"
	"github.com/sofadb/sofa/ctl/internal/pusher"
	"github.com/sofadb/sofa/ctl/internal/scraper"
	"github.com/sofadb/sofa/pkg/configfile"
	"github.com/sofadb/sofa/pkg/types"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
		os.Exit(1)
	}
}

type globals struct {
	v   *viper.Viper
	out io.Writer
}

func (g *globals) client() (*client.Client, error) {
	return client.New(client.Options{
		Server:   g.v.GetString("server"),
		AdminKey: os.Getenv(g.v.GetString("admin-key-env")),
		Timeout:  g.v.GetDuration("timeout"),
	})
}

func newRootCmd(out io.Writer) *cobra.Command {
	g := &globals{v: viper.New(), out: out}

	root := &cobra.Command{
		Use:           "sofactl",
		Short:         "Inspect and reconfigure a running sofa-server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			level := slog.LevelWarn
			if g.v.GetBool("verbose") {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	pf := root.PersistentFlags()
	pf.String("server", client.DefaultServer, "sofa-server base URL")
	pf.String("admin-key-env", "SOFA_ADMIN_KEY", "environment variable holding the admin key for config writes")
	pf.Duration("timeout", 10*time.Second, "per-request timeout")
	pf.BoolP("verbose", "v", false, "log debug output to stderr")
	for _, name := range []string{"server", "admin-key-env", "timeout", "verbose"} {
		_ = g.v.BindPFlag(name, pf.Lookup(name))
	}
	g.v.SetEnvPrefix("SOFA")
	g.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	g.v.AutomaticEnv()

	root.AddCommand(
		newStatusCmd(g),
		newConfigCmd(g),
		newPushCmd(g),
	)
	return root
}

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show listener, backend and log tail state with reconfiguration counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			res := scraper.Scrape(cmd.Context(), c)
			printStatus(g.out, c.Server(), st, res)
			return nil
		},
	}
}

func printStatus(w io.Writer, server string, st types.Status, res *scraper.Result) {
	bold := color.New(color.Bold).SprintFunc()
	state := st.Listener.State
	switch state {
	case "listening":
		state = color.GreenString(state)
	case "starting", "draining":
		state = color.YellowString(state)
	default:
		state = color.RedString(state)
	}

	fmt.Fprintf(w, "%s %s (uuid %s)\n", bold("server"), server, st.UUID)
	fmt.Fprintf(w, "%s %s %s:%d %s\n", bold("listener"), state, st.Listener.Host, st.Listener.Port, st.Listener.URL)

	backend := color.RedString("inactive")
	if st.Backend.Active {
		backend = color.GreenString(st.Backend.Mode)
		if st.Backend.Detail != "" {
			backend += " " + st.Backend.Detail
		}
	}
	fmt.Fprintf(w, "%s %s\n", bold("backend"), backend)
	if st.Backend.LastError != "" {
		fmt.Fprintf(w, "  last swap error: %s\n", color.RedString(st.Backend.LastError))
	}

	tail := "off"
	if st.Tail.Active {
		tail = "mirroring " + st.Tail.File
	}
	fmt.Fprintf(w, "%s %s\n", bold("log tail"), tail)

	if res.Err != nil {
		fmt.Fprintf(w, "%s unavailable: %v\n", bold("counters"), res.Err)
		return
	}
	fmt.Fprintf(w, "%s binds=%.0f drains=%.0f bind_failures(addr_in_use=%.0f other=%.0f)\n",
		bold("counters"), res.Binds, res.Drains, res.BindFailures["addr_in_use"], res.BindFailures["other"])
	fmt.Fprintf(w, "  swaps ok=%.0f error=%.0f  tail restarts ok=%.0f error=%.0f\n",
		res.Swaps["ok"], res.Swaps["error"], res.TailRestarts["ok"], res.TailRestarts["error"])

	paths := make([]string, 0, len(res.ConfigWrites))
	for p := range res.ConfigWrites {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if n := res.ConfigWrites[p]; n > 0 {
			fmt.Fprintf(w, "  writes %s=%.0f\n", p, n)
		}
	}
}

func newConfigCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and write server options through /_config",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [section [key]]",
		Short: "Print all options, one section, or one value",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			switch len(args) {
			case 2:
				v, err := c.ConfigGet(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintln(g.out, v)
			case 1:
				sec, err := c.ConfigSection(ctx, args[0])
				if err != nil {
					return err
				}
				printSection(g.out, args[0], sec)
			default:
				all, err := c.ConfigAll(ctx)
				if err != nil {
					return err
				}
				names := make([]string, 0, len(all))
				for s := range all {
					names = append(names, s)
				}
				sort.Strings(names)
				for _, s := range names {
					printSection(g.out, s, all[s])
				}
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <section> <key> <value>",
		Short: "Write a value; the server applies it immediately",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			old, err := c.ConfigSet(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Fprintf(g.out, "%s.%s: %q -> %q\n", args[0], args[1], old, args[2])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "unset <section> <key>",
		Short: "Clear a value so the option falls back to its default",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			old, err := c.ConfigSet(cmd.Context(), args[0], args[1], nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(g.out, "%s.%s: %q cleared\n", args[0], args[1], old)
			return nil
		},
	})
	return cmd
}

func printSection(w io.Writer, section string, values map[string]string) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s.%s = %s\n", section, k, values[k])
	}
}

func newPushCmd(g *globals) *cobra.Command {
	var (
		file  string
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Write every option of a YAML config file to the server",
		Long: `push writes every key of the file through PUT /_config. With --watch it
keeps running and pushes the keys that change each time the file is saved;
a removed key is cleared on the server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			f, err := configfile.Load(file)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			p := pusher.New(c, pusher.DefaultBufferSize)
			p.OnSent(func(e configfile.Entry, old string) {
				if e.Removed {
					fmt.Fprintf(g.out, "%s cleared (was %q)\n", e.Path(), old)
					return
				}
				fmt.Fprintf(g.out, "%s = %v (was %q)\n", e.Path(), e.Value, old)
			})
			go p.Run(ctx)
			p.Push(f.Entries()...)

			if !watch {
				return p.Flush(ctx)
			}

			prev := f
			err = configfile.Watch(ctx, file, func(next configfile.File) {
				p.Push(configfile.Diff(prev, next)...)
				prev = next
			})
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML config file")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep pushing changes until interrupted")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
