package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/memscope-index/pkg/config"
	"github.com/memscope-index/pkg/pprof"
	"github.com/memscope-index/pkg/telemetry"
	"github.com/memscope-index/pkg/utils"
)

var (
	// Global flags
	cfgFile string
	verbose bool

	cfg    *config.Config
	logger utils.Logger = &utils.NullLogger{}

	// Pprof flags
	pprofEnabled  bool
	pprofDir      string
	pprofProfiles string
	pprofCPURate  int

	cmdSpan           trace.Span
	telemetryShutdown telemetry.ShutdownFunc
	pprofCollector    *pprof.Collector
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "memscope-index",
	Short: "Index and query memscope allocation files",
	Long: `memscope-index reads binary allocation files written by memscope.

It builds an offset index of every record (with per-batch quick filters for
large files), keeps built indexes in a persistent cache, and reads only the
requested fields of the selected records.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded

		logger, err = newLogger(cfg.Log, verbose)
		if err != nil {
			return err
		}
		utils.SetGlobalLogger(logger)

		shutdown, err := telemetry.Init(cmd.Context(), telemetry.LoadFromEnv())
		if err != nil {
			logger.Warn("telemetry disabled: %v", err)
		}
		telemetryShutdown = shutdown

		if pprofEnabled {
			pcfg, err := buildPprofConfig(cmd.Name())
			if err != nil {
				return err
			}
			collector, err := pprof.NewCollector(pcfg)
			if err != nil {
				return err
			}
			if err := collector.Start(); err != nil {
				return err
			}
			pprofCollector = collector
			logger.Info("pprof collection started (dir: %s)", pcfg.OutputDir)
		}

		ctx, span := telemetry.StartSpan(cmd.Context(), "cli."+cmd.Name(),
			attribute.StringSlice("cli.args", args))
		cmdSpan = span
		cmd.SetContext(ctx)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	finish(err)
	if err != nil {
		os.Exit(1)
	}
}

// finish stops profiling, ends the command span and flushes pending traces.
func finish(err error) {
	if pprofCollector != nil {
		if perr := pprofCollector.Stop(); perr != nil {
			logger.Warn("failed to stop pprof collector: %v", perr)
		}
		logger.Info("pprof data saved to: %s", pprofCollector.OutputDir())
		pprofCollector = nil
	}
	if cmdSpan != nil {
		telemetry.EndSpan(cmdSpan, err)
		cmdSpan = nil
	}
	if telemetryShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := telemetryShutdown(ctx); serr != nil {
			fmt.Fprintf(os.Stderr, "failed to flush traces: %v\n", serr)
		}
		telemetryShutdown = nil
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default: ./config.yaml, ./configs/config.yaml or /etc/memscope-index/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	// Pprof flags
	rootCmd.PersistentFlags().BoolVar(&pprofEnabled, "pprof", false, "Profile this run with pprof")
	rootCmd.PersistentFlags().StringVar(&pprofDir, "pprof-dir", "./pprof", "Output directory for pprof data")
	rootCmd.PersistentFlags().StringVar(&pprofProfiles, "pprof-profiles", "cpu,heap", "Comma-separated profile types: cpu,heap,goroutine,block,mutex,allocs")
	rootCmd.PersistentFlags().IntVar(&pprofCPURate, "pprof-cpu-rate", 100, "CPU profiling rate in Hz")

	binName := BinName()
	rootCmd.Example = `  # Write a synthetic file with 50000 records
  ` + binName + ` generate ./alloc.memscope --count 50000

  # Index several files in parallel through the index cache
  ` + binName + ` index ./a.memscope ./b.memscope

  # Stream pointer and size of large allocations as JSON lines
  ` + binName + ` query ./alloc.memscope --min-size 1048576 --fields ptr,size

  # Report parser and batch statistics
  ` + binName + ` stats ./alloc.memscope

  # Profile a full parse with pprof
  ` + binName + ` stats ./alloc.memscope --fields all --pprof --pprof-profiles cpu,heap,allocs`
}

// newLogger writes to stderr unless an output path is configured. The
// verbose flag forces debug level.
func newLogger(c config.LogConfig, verbose bool) (utils.Logger, error) {
	level := utils.ParseLogLevel(c.Level)
	if verbose {
		level = utils.LevelDebug
	}
	if c.OutputPath != "" {
		return utils.NewFileLogger(level, c.OutputPath)
	}
	return utils.NewDefaultLogger(level, os.Stderr), nil
}

// GetLogger returns the configured logger
func GetLogger() utils.Logger {
	return logger
}

// BinName returns the base name of the current executable
func BinName() string {
	return filepath.Base(os.Args[0])
}

// buildPprofConfig builds pprof configuration from command line flags.
func buildPprofConfig(command string) (*pprof.Config, error) {
	cfg := pprof.DefaultConfig()
	cfg.Enabled = true
	cfg.OutputDir = pprofDir
	cfg.Prefix = command
	cfg.CPURate = pprofCPURate

	profiles, err := pprof.ParseProfileTypes(pprofProfiles)
	if err != nil {
		return nil, err
	}
	cfg.Profiles = profiles
	return cfg, nil
}
