// Command varietyd runs the capability acquisition daemon: it watches for
// missing capabilities, installs plugin packages that provide them, and
// routes capability invocations to the plugin processes it supervises.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/varietylab/varietyd"
	"github.com/varietylab/varietyd/config"
	"github.com/varietylab/varietyd/discovery"
	"github.com/varietylab/varietyd/install"
	"github.com/varietylab/varietyd/monitor"
	"github.com/varietylab/varietyd/proc"
	"github.com/varietylab/varietyd/router"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "varietyd:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath   = pflag.String("config", "", "path to YAML config file")
		catalogPath  = pflag.String("catalog", "", "curated capability catalog (JSONC)")
		registryURL  = pflag.String("registry", "", "package registry base URL")
		installRoot  = pflag.String("install-root", "", "directory for package installs")
		interval     = pflag.Duration("interval", 0, "acquisition tick interval")
		logLevel     = pflag.String("log-level", "", "debug, info, warn, or error")
		capabilities = pflag.StringSlice("require", nil, "capabilities to acquire at startup")
	)
	pflag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			return err
		}
	}
	// Flags win over file values.
	if *catalogPath != "" {
		cfg.CatalogPath = *catalogPath
	}
	if *registryURL != "" {
		cfg.RegistryURL = *registryURL
	}
	if *installRoot != "" {
		cfg.InstallRoot = *installRoot
	}
	if *interval > 0 {
		cfg.Interval = *interval
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	var sources []discovery.Source
	if cfg.CatalogPath != "" {
		curated, err := discovery.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return err
		}
		sources = append(sources, curated)
	}
	if cfg.RegistryURL != "" {
		sources = append(sources, discovery.NewRegistrySource(cfg.RegistryURL,
			discovery.WithRegistryLogger(log.With("component", "registry"))))
	}
	if len(sources) == 0 {
		return fmt.Errorf("no discovery sources configured: set catalog_path or registry_url")
	}
	engine := discovery.NewEngine(log.With("component", "discovery"), sources...)

	installer, err := install.New(cfg.InstallRoot,
		install.WithLogger(log.With("component", "install")))
	if err != nil {
		return err
	}

	supervisor := proc.New(proc.WithLogger(log.With("component", "proc")))
	routes := router.New(log.With("component", "router"))

	mon := monitor.New(engine, installer, supervisor, routes,
		monitor.WithInterval(cfg.Interval),
		monitor.WithAttemptDeadline(cfg.AttemptDeadline),
		monitor.WithHandshakeTimeout(cfg.HandshakeTimeout),
		monitor.WithCallTimeout(cfg.CallTimeout),
		monitor.WithMaxAttempts(cfg.MaxAttempts),
		monitor.WithBackoff(cfg.BackoffBase, cfg.BackoffCap),
		monitor.WithLogger(log.With("component", "monitor")),
	)
	supervisor.Subscribe(mon.HandleExit)

	if len(*capabilities) > 0 {
		gap, err := varietyd.NewGap(*capabilities, varietyd.SeverityNormal, "startup")
		if err != nil {
			return err
		}
		mon.InjectGap(gap)
	}

	mon.Start()
	log.Info("varietyd started",
		"interval", cfg.Interval, "install_root", cfg.InstallRoot,
		"capabilities", *capabilities)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down")
	mon.Stop()

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	supervisor.StopAll(stopCtx)
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
