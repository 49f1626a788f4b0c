// Command callminder runs the reminder call engine: it watches stored
// reminders, rings due ones as virtual calls and escalates them to
// full-screen call notifications while the host is in the background.
//
// Usage:
//
//	./callminder                       # interactive console
//	./callminder --mode daemon         # headless; SIGUSR1 = background, SIGUSR2 = foreground
//	./callminder --mode mcp            # overlay and reminder tools over MCP stdio
//	./callminder --config path.yaml    # alternate configuration file
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/notexe/callminder/internal/call"
	"github.com/notexe/callminder/internal/config"
	"github.com/notexe/callminder/internal/detector"
	"github.com/notexe/callminder/internal/lifecycle"
	"github.com/notexe/callminder/internal/logging"
	"github.com/notexe/callminder/internal/metrics"
	"github.com/notexe/callminder/internal/notify"
	"github.com/notexe/callminder/internal/overlay"
	"github.com/notexe/callminder/internal/reminder"
	"github.com/notexe/callminder/internal/repl"
	"github.com/notexe/callminder/internal/telegram"
)

const (
	modeConsole = "console"
	modeDaemon  = "daemon"
	modeMCP     = "mcp"
)

func main() {
	configPath := flag.String("config", config.GetDefaultConfigPath(), "Path to configuration file")
	mode := flag.String("mode", modeConsole, "Run mode: console, daemon or mcp")
	logLevel := flag.String("log-level", "", "Log level (overrides config)")
	noColor := flag.Bool("no-color", false, "Disable colored output")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	switch *mode {
	case modeConsole, modeDaemon, modeMCP:
	default:
		fmt.Fprintf(os.Stderr, "Unknown mode %q (want console, daemon or mcp)\n", *mode)
		os.Exit(2)
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Journal: cfg.Log.Journal})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	colored := !*noColor && term.IsTerminal(int(os.Stdout.Fd()))
	if err := run(ctx, cfg, *mode, colored, logger); err != nil {
		logger.Error("callminder stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, mode string, colored bool, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	store, err := reminder.NewStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	var (
		observer      metrics.Observer = metrics.Nop()
		metricsServer *http.Server
	)
	if cfg.Metrics.Listen != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		prom, err := metrics.NewPrometheusObserver("callminder", registry)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		observer = prom
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	var (
		deliverer notify.Deliverer
		tg        *telegram.Client
	)
	if cfg.Telegram.Enabled() {
		tg = telegram.NewClient(cfg.Telegram.BaseURL, cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		deliverer = telegram.NewSender(tg, logger)
	}

	// Interfaces stay untyped nil when notifications are off.
	var (
		scheduler      *notify.Scheduler
		callNotifier   call.Notifier
		bridgeNotifier lifecycle.Notifier
		pending        repl.Notifications
	)
	if cfg.Notifications.Enabled {
		platform := notify.NewLocalPlatform(deliverer, logger)
		defer platform.Close()
		scheduler = notify.NewScheduler(platform,
			notify.WithLogger(logger),
			notify.WithObserver(observer),
			notify.WithCallDelay(cfg.Notifications.CallDelay),
		)
		if err := scheduler.Init(ctx); err != nil {
			logger.Warn("notifications unavailable", "error", err)
		}
		callNotifier, bridgeNotifier, pending = scheduler, scheduler, scheduler
	}

	calls := call.NewService(store, callNotifier, cfg.CallSettings(),
		call.WithLogger(logger),
		call.WithObserver(observer),
	)
	defer calls.Close()

	det := detector.New(store, detector.WithLogger(logger), detector.WithObserver(observer))
	bridge := lifecycle.New(det, calls, bridgeNotifier, store, cfg.LifecycleSettings(), lifecycle.WithLogger(logger))
	defer bridge.Stop()

	observers := reminder.Observers{calls}
	if scheduler != nil {
		observers = append(observers, scheduler)
		if err := syncNotifications(ctx, store, scheduler, logger); err != nil {
			logger.Warn("notification sync failed", "error", err)
		}
	}

	if err := bridge.Start(ctx, cfg.InitialMode()); err != nil {
		return fmt.Errorf("failed to start detector: %w", err)
	}
	logger.Info("callminder started", "mode", mode, "lifecycle", bridge.Mode(), "store", cfg.Store.Path)

	g, gctx := errgroup.WithContext(ctx)

	if metricsServer != nil {
		g.Go(func() error {
			logger.Info("metrics listening", "addr", cfg.Metrics.Listen)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	if tg != nil {
		poller := telegram.NewPoller(tg, bridge, cfg.Telegram.PollTimeout, logger)
		g.Go(func() error { return poller.Run(gctx) })
	}

	g.Go(func() error {
		defer cancel()
		switch mode {
		case modeMCP:
			return serveMCP(gctx, store, calls, bridge, observers)
		case modeDaemon:
			return runDaemon(gctx, calls, bridge, logger)
		default:
			console, err := repl.NewREPL(repl.Deps{
				Calls:         calls,
				Lifecycle:     bridge,
				Reminders:     store,
				Notifications: pending,
				Observer:      observers,
				StorePath:     cfg.Store.Path,
				Colored:       colored,
			})
			if err != nil {
				return err
			}
			return console.Start(gctx)
		}
	})

	return g.Wait()
}

func syncNotifications(ctx context.Context, store *reminder.Store, scheduler *notify.Scheduler, logger *slog.Logger) error {
	reminders, err := store.List(ctx)
	if err != nil {
		return err
	}
	n, err := scheduler.Sync(ctx, reminders)
	if err != nil {
		return err
	}
	logger.Info("notifications synced", "scheduled", n)
	return nil
}

// serveMCP exposes the overlay tools and the reminder tools on one stdio server.
func serveMCP(ctx context.Context, store *reminder.Store, calls *call.Service, bridge *lifecycle.Bridge, observer reminder.ChangeObserver) error {
	ov := overlay.NewServer(calls, bridge, store)
	for _, tool := range reminder.NewServer(store, observer).MCPServer().ListTools() {
		ov.MCPServer().AddTools(*tool)
	}

	events, unsubscribe := calls.Events().Subscribe(32)
	defer unsubscribe()
	go ov.ForwardEvents(ctx, events)

	stdio := server.NewStdioServer(ov.MCPServer())
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// runDaemon logs call transitions and maps SIGUSR1/SIGUSR2 to the host
// going to the background and coming back.
func runDaemon(ctx context.Context, calls *call.Service, bridge *lifecycle.Bridge, logger *slog.Logger) error {
	events, unsubscribe := calls.Events().Subscribe(32)
	defer unsubscribe()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sig)

	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-sig:
			var err error
			if s == syscall.SIGUSR1 {
				err = bridge.OnBackground()
			} else {
				err = bridge.OnForeground()
			}
			if err != nil {
				logger.Error("lifecycle switch failed", "signal", s.String(), "error", err)
				continue
			}
			logger.Info("lifecycle switched", "mode", bridge.Mode())
		case ev := <-events:
			logger.Info("call event",
				"kind", ev.Kind,
				"reminder_id", ev.Entry.Reminder.ID,
				"title", ev.Entry.Reminder.Title,
				"queue_length", ev.QueueLength,
			)
		}
	}
}
