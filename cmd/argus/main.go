package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/siyamsarker/argus/pkg/config"
	"github.com/siyamsarker/argus/pkg/notify"
	"github.com/siyamsarker/argus/pkg/observability"
	"github.com/siyamsarker/argus/pkg/probe"
	"github.com/siyamsarker/argus/pkg/scheduler"
	"github.com/siyamsarker/argus/pkg/track"
	"github.com/siyamsarker/argus/pkg/version"
)

const (
	exitOK          = 0
	exitUsage       = 64
	exitConfigError = 65
	exitRunError    = 66
	exitUnhealthy   = 67
)

func main() {
	exitCode := run(os.Args[1:])
	os.Exit(exitCode)
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitUsage
	}

	switch args[0] {
	case "run":
		return commandRun(args[1:])
	case "validate-config":
		return commandValidate(args[1:])
	case "simulate":
		return commandSimulate(args[1:])
	case "version":
		fmt.Println(version.Version)
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		usage()
		return exitUsage
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: argus <command> [options]
Commands:
  run                Start the monitoring daemon
  validate-config    Validate the configuration file
  simulate           Probe all configured instances once without notifying
  version            Print build version
`)
}

func commandRun(args []string) int {
	return commandRunWithWriters(args, os.Stdout, os.Stderr)
}

func commandRunWithWriters(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	once := fs.Bool("once", false, "run a single polling cycle and exit")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return exitConfigError
	}

	logger := observability.NewJSONLogger(stdout,
		observability.WithMinLevel(observability.ParseLevel(cfg.LogLevel)))
	host, _ := os.Hostname()

	var metrics observability.MetricsCollector = observability.NoopCollector{}
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		collector := observability.NewPrometheusCollector()
		metrics = collector
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
	}

	reporter := scheduler.NewStructuredReporter(host, logger, metrics)

	client := probe.NewPooledClient(len(cfg.Instances))
	probers, err := probe.NewAll(cfg.Instances, client, cfg.RequestTimeout())
	if err != nil {
		fmt.Fprintf(stderr, "failed to construct probers: %v\n", err)
		return exitConfigError
	}

	notifier := notify.NewDiscordNotifier(cfg.DiscordWebhookURL,
		notify.WithFooter(notify.DefaultFooter(host)))
	dispatcher, err := notify.NewDispatcher(notifier, notify.WithReporter(reporter))
	if err != nil {
		fmt.Fprintf(stderr, "failed to construct dispatcher: %v\n", err)
		return exitConfigError
	}

	runner, err := scheduler.NewRunner(cfg, probers, dispatcher,
		scheduler.WithReporter(reporter),
		scheduler.WithHost(host))
	if err != nil {
		fmt.Fprintf(stderr, "failed to construct runner: %v\n", err)
		return exitConfigError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsServer != nil {
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				_ = logger.Log(ctx, observability.Event{
					Level:     observability.LevelError,
					Host:      host,
					Component: "metrics",
					Event:     "listener_failed",
					Fields:    map[string]interface{}{"listen": cfg.Metrics.Listen, "error": err.Error()},
				})
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	if *once {
		outcome, err := runner.RunOnce(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "polling cycle failed: %v\n", err)
			return exitRunError
		}
		printCycle(stdout, outcome)
		for _, res := range outcome.Results {
			if res.State.Health == track.Unhealthy {
				return exitUnhealthy
			}
		}
		return exitOK
	}

	_ = logger.Log(ctx, observability.Event{
		Level:     observability.LevelInfo,
		Host:      host,
		Component: "daemon",
		Event:     "starting",
		Fields: map[string]interface{}{
			"version":           version.Version,
			"instances":         len(cfg.Instances),
			"interval_sec":      cfg.CheckIntervalSec,
			"failure_threshold": cfg.FailureThreshold,
		},
	})

	// Best effort: a failed startup notification must not prevent monitoring.
	dispatcher.Dispatch(ctx, notify.StartupMessage(cfg, host, time.Now()))

	loop, err := scheduler.NewLoop(cfg, runner,
		scheduler.WithLoopErrorHandler(func(loopErr error) {
			_ = logger.Log(ctx, observability.Event{
				Level:     observability.LevelError,
				Host:      host,
				Component: "daemon",
				Event:     "cycle_failed",
				Fields:    map[string]interface{}{"error": loopErr.Error()},
			})
		}))
	if err != nil {
		fmt.Fprintf(stderr, "failed to construct loop: %v\n", err)
		return exitConfigError
	}

	err = loop.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(stderr, "daemon stopped: %v\n", err)
		return exitRunError
	}

	_ = logger.Log(context.Background(), observability.Event{
		Level:     observability.LevelInfo,
		Host:      host,
		Component: "daemon",
		Event:     "stopped",
	})
	return exitOK
}

func commandValidate(args []string) int {
	return commandValidateWithWriters(args, os.Stdout, os.Stderr)
}

func commandValidateWithWriters(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate-config", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	if _, err := config.Load(*configPath); err != nil {
		fmt.Fprintf(stderr, "configuration invalid: %v\n", err)
		return exitConfigError
	}

	fmt.Fprintf(stdout, "configuration at %s is valid\n", *configPath)
	return exitOK
}

func commandSimulate(args []string) int {
	return commandSimulateWithWriters(args, os.Stdout, os.Stderr)
}

func commandSimulateWithWriters(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return exitConfigError
	}

	client := probe.NewPooledClient(len(cfg.Instances))
	probers, err := probe.NewAll(cfg.Instances, client, cfg.RequestTimeout())
	if err != nil {
		fmt.Fprintf(stderr, "failed to construct probers: %v\n", err)
		return exitConfigError
	}

	fmt.Fprintf(stdout, "probing %d configured instance(s):\n", len(probers))

	unhealthy := 0
	for _, prober := range probers {
		start := time.Now()
		outcome := prober.Probe(context.Background())
		duration := time.Since(start).Round(time.Millisecond)

		status := "healthy"
		if !outcome.Healthy {
			status = "unhealthy"
			unhealthy++
		}
		fmt.Fprintf(stdout, "  - %s (%s) => %s (duration %s)\n", prober.Name(), prober.Kind(), status, duration)
		if outcome.Reason != "" {
			fmt.Fprintf(stdout, "      %s\n", outcome.Reason)
		}
	}

	fmt.Fprintln(stdout, "no notifications sent in simulation mode")
	if unhealthy > 0 {
		fmt.Fprintf(stdout, "%d instance(s) unhealthy\n", unhealthy)
		return exitUnhealthy
	}
	return exitOK
}

func printCycle(stdout io.Writer, outcome scheduler.CycleOutcome) {
	for _, res := range outcome.Results {
		status := "healthy"
		if res.State.Health == track.Unhealthy {
			status = "unhealthy"
		}
		fmt.Fprintf(stdout, "  - %s (%s) => %s\n", res.Instance, res.Kind, status)
		if !res.Outcome.Healthy && res.Outcome.Reason != "" {
			fmt.Fprintf(stdout, "      %s\n", res.Outcome.Reason)
		}
	}
	fmt.Fprintf(stdout, "transitions: %d\n", outcome.Transitions)
}
