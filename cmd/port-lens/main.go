package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/CZERTAINLY/port-lens/internal/dashboard"
	"github.com/CZERTAINLY/port-lens/internal/log"
	"github.com/CZERTAINLY/port-lens/internal/model"
	"github.com/CZERTAINLY/port-lens/internal/policy"
	"github.com/CZERTAINLY/port-lens/internal/ports"
	"github.com/CZERTAINLY/port-lens/internal/probe"
	"github.com/CZERTAINLY/port-lens/internal/sched"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const defaultHttpServerGracefulPeriod = 5 * time.Second

var (
	userConfigPath string // /default/config/path/port-lens on given OS
	configPath     string // actual config file used (if loaded)

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
	flagPorts          string // value of --ports flag
)

var rootCmd = &cobra.Command{
	Use:          "port-lens",
	Short:        "Policy guarded TCP port scanner with a web dashboard",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve reads the configuration and starts the http dashboard",
	RunE:  doServe,
}

var scanCmd = &cobra.Command{
	Use:   "scan <host>",
	Short: "scan probes a single host from the command line",
	Args:  cobra.ExactArgs(1),
	RunE:  doScan,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides a version of port-lens",
	RunE:  doVersion,
}

func init() {
	// user configuration
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "port-lens")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is port-lens.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	scanCmd.Flags().StringVar(&flagPorts, "ports", "", "ports to scan, e.g. 22,80,8000-8100 - default is the builtin well known list")

	// never print messages and usage
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(versionCmd)

	if cmd, err := rootCmd.ExecuteC(); err != nil {
		slog.Error("port-lens failed", "err", err)
		if strings.HasPrefix(err.Error(), "unknown command") {
			_ = rootCmd.Help() // ./cmd bflmp
		} else {
			_ = cmd.Help() // ./cmd serve gfagf (extra arg)
		}
		os.Exit(1)
	}
}

func doVersion(cmd *cobra.Command, args []string) error {
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return fmt.Errorf("port-lens: version info not available")
	}

	if configPath != "" {
		fmt.Printf("config: %s\n", configPath)
	}
	fmt.Printf("port-lens: %s\n", info.Main.Version)
	fmt.Printf("go:     %s\n", info.GoVersion)
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			fmt.Printf("commit: %s\n", s.Value)
		case "vcs.time":
			fmt.Printf("date:   %s\n", s.Value)
		case "vcs.modified":
			fmt.Printf("dirty:  %s\n", s.Value)
		}
	}
	fmt.Println()

	return nil
}

func doServe(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("unsupported arguments: %s", strings.Join(args, ", "))
	}
	config, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	attrs := slog.Group("port-lens",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)
	slog.DebugContext(ctx, "", "config", config)

	pol := buildPolicy(ctx, config.Policy)
	scanner := newScanner(config.Scan, pol)
	prober := dashboard.ProberFunc(func(ctx context.Context, host string, portList []int, timeout time.Duration) (probe.Report, error) {
		return scanner.WithTimeout(timeout).Scan(ctx, host, portList)
	})

	srv, err := dashboard.New(ctx, config, pol, prober)
	if err != nil {
		return err
	}
	defer srv.Close(ctx)

	httpServer := &http.Server{
		Addr:    config.Server.Addr,
		Handler: srv.Handler(),
	}

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		slog.InfoContext(ctx, "Starting http server.", slog.String("addr", config.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
			return
		}
		errChan <- nil
	}()

	var watcher *sched.Scheduler
	if config.Watch != nil {
		watcher, err = sched.New(ctx, config.Watch, func() {
			watchTargets(ctx, scanner, config)
		})
		if err != nil {
			return fmt.Errorf("watch mode failed: %w", err)
		}
		slog.InfoContext(ctx, "Starting watch mode.",
			slog.Any("targets", config.Watch.Targets),
			slog.String("interval", watcher.Interval().String()))
		watcher.Start()
		defer watcher.Shutdown(ctx)
	}

	var retErr error
	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "Shutdown signal received.")
	case retErr = <-errChan:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), defaultHttpServerGracefulPeriod)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.InfoContext(ctx, "Http server shutdown error.", slog.String("error", err.Error()))
	} else {
		slog.InfoContext(ctx, "Http server shutdown gracefully.")
	}

	return retErr
}

// watchTargets probes every configured target once, logging the
// summary. Failures of one target do not stop the others.
func watchTargets(ctx context.Context, scanner probe.Scanner, config model.Config) {
	portList := ports.Parse(config.Scan.Ports)
	if portList == nil {
		slog.ErrorContext(ctx, "No valid ports to scan.", slog.String("ports", config.Scan.Ports))
		return
	}
	for _, target := range config.Watch.Targets {
		report, err := scanner.Scan(ctx, target, portList)
		if err != nil {
			slog.ErrorContext(ctx, "Watch scan failed.",
				slog.String("host", target), slog.String("error", err.Error()))
			continue
		}
		slog.InfoContext(ctx, "Watch scan finished.",
			slog.String("host", target),
			slog.Int("scanned", len(report)),
			slog.Int("open", report.OpenCount()),
			slog.Any("open-ports", report.OpenPorts()))
	}
}

// buildPolicy parses the configured CIDR blocks. Unparseable entries
// are dropped from enforcement but never silently.
func buildPolicy(ctx context.Context, cfg model.Policy) policy.Policy {
	pol, dropped := policy.Parse(cfg.Allow, cfg.Deny)
	for _, entry := range dropped {
		slog.WarnContext(ctx, "Dropping unparseable network from policy.", slog.String("cidr", entry))
	}
	return pol
}

func newScanner(cfg model.Scan, pol policy.Policy) probe.Scanner {
	return probe.New().
		WithTimeout(time.Duration(cfg.TimeoutSeconds * float64(time.Second))).
		WithLimit(cfg.MaxConcurrency).
		WithPolicy(pol)
}

func loadConfig(_ *cobra.Command, _ []string) (model.Config, error) {
	if envConfig, ok := os.LookupEnv("PORTLENSCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "port-lens.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	var config model.Config

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig()
		configPath = filepath.Join(userConfigPath, "port-lens.yaml")
		err := os.MkdirAll(filepath.Dir(configPath), 0755)
		if err != nil {
			return config, fmt.Errorf("creating directory %s: %w", filepath.Dir(configPath), err)
		}

		f, err := os.Create(configPath)
		if err != nil {
			return config, fmt.Errorf("creating file %s: %w", configPath, err)
		}
		defer func() {
			_ = f.Close()
		}()
		enc := yaml.NewEncoder(f)
		err = enc.Encode(config)
		if err != nil {
			return config, fmt.Errorf("storing configuration: %w", err)
		}
	} else {
		var err error
		config, err = model.LoadConfigFromPath(configPath)
		if err != nil {
			return config, err
		}
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		config.Service.Verbose = true
	}

	// initialize logging
	slog.SetDefault(log.New(config.Service.Verbose))

	slog.Debug("port-lens", "configPath", configPath)
	slog.Debug("port-lens", "config", config)
	return config, nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
