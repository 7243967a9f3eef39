package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomasmach/banter/agent"
	"github.com/tomasmach/banter/bot"
	"github.com/tomasmach/banter/commands"
	"github.com/tomasmach/banter/config"
	"github.com/tomasmach/banter/delivery"
	"github.com/tomasmach/banter/history"
	"github.com/tomasmach/banter/llm"
	"github.com/tomasmach/banter/logstore"
	"github.com/tomasmach/banter/scheduler"
	"github.com/tomasmach/banter/soul"
	"github.com/tomasmach/banter/tuning"
	"github.com/tomasmach/banter/web"
)

func main() {
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	baseHandler := setupLogger(*logLevel, *logFormat)

	// Config path: --config flag > BANTER_CONFIG env > default
	cfgPath := config.Resolve()
	if *configPath != "" {
		cfgPath = *configPath
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	slog.Info("config loaded", "path", cfgPath, "bots", len(cfg.Bots), "provider", cfg.LLM.Provider)

	var logs *logstore.Store
	if cfg.Log.DBPath != "" {
		logs, err = logstore.Open(cfg.Log.DBPath)
		if err != nil {
			slog.Error("failed to open log store", "error", err, "path", cfg.Log.DBPath)
			os.Exit(1)
		}
		defer logs.Close()
		slog.SetDefault(slog.New(logstore.NewHandler(baseHandler, logs)))
		slog.Info("log store opened", "path", cfg.Log.DBPath)
	}

	var startable []config.BotConfig
	for _, b := range cfg.Bots {
		if err := b.Validate(); err != nil {
			var cfgErr *config.ConfigurationError
			if errors.As(err, &cfgErr) {
				slog.Error("skipping bot with invalid configuration", "bot", cfgErr.Bot, "field", cfgErr.Field, "error", err)
				continue
			}
			slog.Error("failed to validate bot", "bot", b.Name, "error", err)
			continue
		}
		startable = append(startable, b)
	}
	if len(startable) == 0 {
		slog.Error("no bot can be started")
		os.Exit(1)
	}
	cfg.Bots = startable

	settings := tuning.Settings{
		ReplyChance: cfg.Tuning.ReplyChance,
		Cooldown:    cfg.Tuning.Cooldown(),
		TypingSpeed: cfg.Tuning.TypingSpeed,
		Interval:    cfg.Tuning.Interval(),
	}
	tuningStore := tuning.NewStore(settings, soul.LoadAll(cfg))
	llmClient := llm.New(&cfg.LLM)
	router := agent.NewRouter()

	names := cfg.BotNames()
	shared := agent.Shared{Owner: cfg.Owner, BasePrompt: cfg.BasePrompt, Roster: names}
	commandBot := cfg.CommandBot()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		started []*bot.Bot
	)
	var g errgroup.Group
	for _, bc := range cfg.Bots {
		opts := bot.Options{
			Name:         bc.Name,
			Token:        bc.Token,
			Channel:      bc.Channel,
			IntroOnStart: bc.IntroOnStart,
		}
		if bc.Name == commandBot {
			opts.Commands = commands.NewHandler(tuningStore)
			opts.Definitions = commands.Definitions(names)
		}
		b, err := bot.New(opts)
		if err != nil {
			slog.Error("failed to create bot", "bot", bc.Name, "error", err)
			continue
		}
		throttler := delivery.New(b, func() float64 { return tuningStore.Settings().TypingSpeed }, slog.With("bot", bc.Name))
		runner := agent.New(
			agent.Identity{Name: bc.Name, Model: cfg.ResolveModel(&bc), Channel: bc.Channel, AnswerPing: bc.Name == commandBot},
			shared,
			agent.Deps{History: history.NewStore(), Tuning: tuningStore, LLM: llmClient, Out: throttler},
		)
		b.SetRunner(runner)

		g.Go(func() error {
			if err := b.Start(ctx); err != nil {
				slog.Error("failed to start bot", "bot", bc.Name, "error", err)
				return nil
			}
			router.Add(runner)
			mu.Lock()
			started = append(started, b)
			mu.Unlock()
			slog.Info("bot started", "bot", bc.Name, "model", cfg.ResolveModel(&bc), "commands", bc.Name == commandBot)
			return nil
		})
	}
	g.Wait()
	if len(started) == 0 {
		slog.Error("no bot could connect to discord")
		os.Exit(1)
	}

	sched, err := scheduler.New(ctx, settings.Interval)
	if err != nil {
		slog.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}
	for _, runner := range router.Runners() {
		if err := sched.Add(runner); err != nil {
			slog.Error("failed to schedule periodic posts", "bot", runner.Name(), "error", err)
		}
	}
	sched.Watch(tuningStore)
	sched.Start()

	var webServer *web.Server
	if cfg.Web.Addr != "" {
		webServer = web.New(cfg.Web.Addr, web.Deps{Tuning: tuningStore, Router: router, Logs: logs})
		webServer.StartStatusPoller(ctx)
		go func() {
			if err := webServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "addr", cfg.Web.Addr)
	}

	// Block until SIGTERM or SIGINT.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh

	slog.Info("shutting down")
	cancel()
	if err := sched.Shutdown(); err != nil {
		slog.Error("scheduler shutdown", "error", err)
	}
	for _, b := range started {
		if err := b.Stop(); err != nil {
			slog.Error("failed to close discord session", "error", err)
		}
	}
	router.WaitForDrain()
	if webServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := webServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("web server shutdown", "error", err)
		}
		shutdownCancel()
	}
	slog.Info("shutdown complete")
}

func setupLogger(level, format string) slog.Handler {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: l}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
	return h
}
