package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/hioload-probe/control"
	"github.com/momentics/hioload-probe/internal/concurrency"
	"github.com/momentics/hioload-probe/internal/logging"
	"github.com/momentics/hioload-probe/internal/transport"
)

var log = logging.Logger("cli")

type globalFlags struct {
	cfgFile     string
	logLevel    string
	metricsAddr string
}

// NewRootCommand builds the command tree writing reports to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "hioload-probe",
		Short:         "Probe TLS versions, ALPN and HTTP support of remote servers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&g.cfgFile, "config", "c", "", "config file path (YAML)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "fatal, error, warning, information or trace")
	root.PersistentFlags().StringVar(&g.metricsAddr, "metrics-addr", "", "serve /metrics and /debug/probes on this address")

	root.AddCommand(newProbeCommand(g), newFetchCommand(g))
	return root
}

// Execute runs the CLI with process signals wired to cancellation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand(os.Stdout).ExecuteContext(ctx)
}

// runtimeEnv is what every subcommand needs after flag parsing.
type runtimeEnv struct {
	store    *control.ConfigStore
	tasks    *concurrency.TaskManager
	metrics  *control.MetricsServer
	contexts *transport.ContextPool // nil means transport.Contexts()
}

func (g *globalFlags) setup(ctx context.Context) (*runtimeEnv, error) {
	cfg := control.DefaultConfig()
	if g.cfgFile != "" {
		var err error
		if cfg, err = control.Load(g.cfgFile); err != nil {
			return nil, err
		}
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.metricsAddr != "" {
		cfg.MetricsAddr = g.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		return nil, err
	}

	store := control.NewConfigStore(cfg)
	store.OnReload(func(c control.Config) {
		if err := logging.SetLevel(c.LogLevel); err != nil {
			log.Warn("log level not applied", zap.Error(err))
		}
	})
	if g.cfgFile != "" {
		control.WatchReload(ctx, store, g.cfgFile)
	}

	tasks, err := concurrency.NewTaskManager(
		concurrency.WithTick(cfg.SupervisorTick),
		concurrency.WithGracePeriod(cfg.GracePeriod),
	)
	if err != nil {
		return nil, err
	}
	env := &runtimeEnv{store: store, tasks: tasks}
	if cfg.KeyLogFile != "" {
		if env.contexts, err = transport.NewContextPool(cfg.KeyLogFile); err != nil {
			_ = tasks.Close()
			return nil, err
		}
	}

	if cfg.MetricsAddr != "" {
		probes := control.NewDebugProbes()
		control.RegisterPlatformProbes(probes)
		probes.RegisterProbe("tasks", func() any { return tasks.Snapshot() })
		probes.RegisterProbe("tasks.by_status", func() any { return tasks.Stats() })
		probes.RegisterProbe("config", func() any { return store.GetSnapshot() })
		env.metrics, err = control.ServeMetrics(cfg.MetricsAddr, prometheus.DefaultGatherer, probes)
		if err != nil {
			_ = env.Close()
			return nil, fmt.Errorf("metrics endpoint: %w", err)
		}
	}
	return env, nil
}

// transportOptions derives socket settings from the active config.
func (e *runtimeEnv) transportOptions(tls bool) []transport.Option {
	cfg := e.store.GetSnapshot()
	timeout := cfg.PlainTimeout
	if tls {
		timeout = cfg.TLSTimeout
	}
	opts := []transport.Option{transport.WithTimeout(timeout), transport.WithRetryWait(cfg.RetryWait)}
	if e.contexts != nil {
		opts = append(opts, transport.WithContextPool(e.contexts))
	}
	return opts
}

func (e *runtimeEnv) Close() error {
	err := e.tasks.Close()
	if e.metrics != nil {
		err = multierr.Append(err, e.metrics.Close())
	}
	if e.contexts != nil {
		err = multierr.Append(err, e.contexts.Close())
	}
	return err
}
