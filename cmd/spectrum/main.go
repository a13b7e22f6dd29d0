// Command spectrum is the CLI over the metadata extraction engine: manage
// registered sources, discover their namespaces and objects, describe tables
// with optional statistics, and sample rows. Results print as JSON.
package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spectrumhq/spectrum/pkg/config"
	"github.com/spectrumhq/spectrum/pkg/logger"
	"github.com/spectrumhq/spectrum/pkg/models"
	"github.com/spectrumhq/spectrum/pkg/orchestrator"
	"github.com/spectrumhq/spectrum/pkg/seal"
	"github.com/spectrumhq/spectrum/pkg/store"
)

type app struct {
	cfg   *config.Config
	store *store.Store
	orch  *orchestrator.Orchestrator
}

var (
	configPath string
	logLevel   string
)

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "spectrum",
		Short:         "Metadata extraction and caching for heterogeneous data sources",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(
		a.sourcesCmd(),
		a.discoverCmd(),
		a.describeCmd(),
		a.sampleCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (a *app) init() error {
	cfg := config.Default()
	if configPath != "" {
		if err := config.Load(configPath, cfg); err != nil {
			return err
		}
	}
	if logLevel != "" {
		cfg.Observability.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Encoding:    cfg.Observability.LogEncoding,
		OutputPaths: []string{"stderr"},
	}); err != nil {
		return err
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}

	sealer, err := seal.NewAESSealerFromFile(cfg.Store.KeyPath)
	if err != nil {
		st.Close()
		return err
	}

	orch, err := orchestrator.New(cfg, st, sealer, orchestrator.DefaultFactories())
	if err != nil {
		st.Close()
		return err
	}

	if cfg.Observability.EnableMetrics {
		go func() {
			if err := http.ListenAndServe(cfg.Observability.MetricsAddr, promhttp.Handler()); err != nil {
				logger.Get().Warn("metrics endpoint stopped",
					zap.String("addr", cfg.Observability.MetricsAddr),
					zap.Error(err))
			}
		}()
	}

	a.cfg, a.store, a.orch = cfg, st, orch
	return nil
}

func (a *app) close() {
	if a.orch != nil {
		a.orch.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	logger.Sync() //nolint:errcheck
}

func (a *app) sourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage registered sources",
	}

	var (
		kind    string
		connKVs []string
		credKVs []string
	)
	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			connection, err := parseKV(connKVs)
			if err != nil {
				return err
			}
			credentials, err := parseKV(credKVs)
			if err != nil {
				return err
			}
			desc, err := a.orch.RegisterSource(args[0], models.SourceKind(kind), connection, credentials)
			if err != nil {
				return err
			}
			return printJSON(desc)
		},
	}
	addCmd.Flags().StringVar(&kind, "kind", "", "source kind: rdbms, lakehouse, or filelake")
	addCmd.Flags().StringArrayVar(&connKVs, "conn", nil, "connection parameter as key=value (repeatable)")
	addCmd.Flags().StringArrayVar(&credKVs, "cred", nil, "credential as key=value (repeatable, sealed at rest)")
	addCmd.MarkFlagRequired("kind") //nolint:errcheck

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered sources with credentials redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(a.orch.ListSources())
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Deregister a source and drop its cached metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.orch.DeregisterSource(args[0])
		},
	}

	cmd.AddCommand(addCmd, listCmd, removeCmd)
	return cmd
}

func (a *app) discoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover <source> [parent]",
		Short: "List databases of a source, or objects under a parent path",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				dbs, err := a.orch.DiscoverDatabases(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(dbs)
			}
			objs, err := a.orch.DiscoverObjects(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(objs)
		},
	}
}

func (a *app) describeCmd() *cobra.Command {
	var withStats bool
	cmd := &cobra.Command{
		Use:   "describe <source> <path>",
		Short: "Extract schema and metadata for one object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.orch.Describe(cmd.Context(), args[0], args[1], withStats)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().BoolVar(&withStats, "stats", false, "include per-column statistics")
	return cmd
}

func (a *app) sampleCmd() *cobra.Command {
	var (
		limit   int
		method  string
		percent float64
	)
	cmd := &cobra.Command{
		Use:   "sample <source> <path>",
		Short: "Sample rows from one object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.orch.Sample(cmd.Context(), args[0], args[1], models.SampleOptions{
				Limit:   limit,
				Method:  models.SamplingMethod(method),
				Percent: percent,
			})
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "row cap (defaults from config)")
	cmd.Flags().StringVar(&method, "method", "head", "sampling method: head or bernoulli")
	cmd.Flags().Float64Var(&percent, "percent", 1.0, "bernoulli sampling percentage")
	return cmd
}

func parseKV(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		eq := strings.Index(p, "=")
		if eq <= 0 {
			return nil, fmt.Errorf("malformed key=value pair %q", p)
		}
		out[p[:eq]] = p[eq+1:]
	}
	return out, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
