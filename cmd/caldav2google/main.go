// Caldav2google mirrors a single CalDAV calendar into a Google Calendar.
// Sync is one-way: CalDAV is the source of truth, and events created,
// updated, or deleted there are replayed against the Google side.
//
// Usage:
//
//	caldav2google auth [--config <path>]    # interactive OAuth authorization
//	caldav2google sync [--config <path>]    # single sync pass then exit
//	caldav2google daemon [--config <path>]  # run sync passes on a cron schedule
//	caldav2google status                    # show config and state DB info
//	caldav2google version                   # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"google.golang.org/api/option"

	"caldav2google/internal/caldav"
	"caldav2google/internal/config"
	"caldav2google/internal/gcal"
	"caldav2google/internal/state"
	syncp "caldav2google/internal/sync"
	"caldav2google/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Secrets may live in a .env file next to the binary during development.
	_ = godotenv.Load()

	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	switch cmd := os.Args[1]; cmd {
	case "auth":
		return runAuth(os.Args[2:])
	case "sync":
		return runSync(os.Args[2:], false)
	case "daemon":
		return runSync(os.Args[2:], true)
	case "status":
		return runStatus()
	case "version":
		fmt.Println("caldav2google", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q, run 'caldav2google' for usage", cmd)
	}
}

func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "caldav2google — one-way CalDAV → Google Calendar sync")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  caldav2google auth [--config ...]    Authorize Google Calendar access")
	fmt.Fprintln(os.Stderr, "  caldav2google sync [--config ...]    Single sync pass then exit")
	fmt.Fprintln(os.Stderr, "  caldav2google daemon [--config ...]  Run sync passes on a schedule")
	fmt.Fprintln(os.Stderr, "  caldav2google status                 Show config and state DB info")
	fmt.Fprintln(os.Stderr, "  caldav2google version                Print version")
	fmt.Fprintln(os.Stderr, "")

	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "No config file found at %s.\n", cfgPath)
	}

	os.Exit(1)
	return nil // unreachable
}

// --- Subcommands -------------------------------------------------------------

// runAuth walks through the out-of-band OAuth flow and persists the token.
func runAuth(args []string) error {
	fs := flag.NewFlagSet("auth", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}

	tokenPath, err := resolveTokenPath(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	oauthCfg := gcal.OAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret)
	if err := gcal.Authorize(ctx, oauthCfg, tokenPath); err != nil {
		return fmt.Errorf("authorizing Google Calendar access: %w", err)
	}
	fmt.Printf("Token saved to %s\n", tokenPath)
	return nil
}

// runSync handles both "sync" and "daemon" subcommands.
func runSync(args []string, daemon bool) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return startSync(*cfgPath, *verbose, daemon)
}

// runStatus prints the current configuration and state DB info.
func runStatus() error {
	cfgPath, _ := config.DefaultPath()
	dbPath, _ := state.DefaultDBPath()

	fmt.Println("caldav2google Status")
	fmt.Println("────────────────────")

	if _, err := os.Stat(cfgPath); err == nil {
		if cfg, loadErr := config.Load(cfgPath); loadErr == nil {
			fmt.Printf("  Config:     %s ✓\n", cfgPath)
			fmt.Printf("  CalDAV:     %s (calendar %q)\n", cfg.CalDAV.URL, cfg.CalDAV.Calendar)
			fmt.Printf("  Google:     calendar %q\n", cfg.Google.Calendar)
			fmt.Printf("  Schedule:   %s\n", cfg.Schedule)
			fmt.Printf("  Throttle:   %s\n", cfg.ThrottleInterval)
			if cfg.StatePath != "" {
				dbPath = cfg.StatePath
			}
			tokenPath, _ := resolveTokenPath(cfg)
			if _, err := os.Stat(tokenPath); err == nil {
				fmt.Printf("  Token:      %s ✓\n", tokenPath)
			} else {
				fmt.Printf("  Token:      not found, run 'caldav2google auth'\n")
			}
		} else {
			fmt.Printf("  Config:     %s (invalid: %v)\n", cfgPath, loadErr)
		}
	} else {
		fmt.Printf("  Config:     not found (%s)\n", cfgPath)
	}

	if info, err := os.Stat(dbPath); err == nil {
		fmt.Printf("  State DB:   %s (%s)\n", dbPath, humanSize(info.Size()))
	} else {
		fmt.Printf("  State DB:   not found\n")
	}

	return nil
}

// --- Sync core ---------------------------------------------------------------

// startSync wires config, state, the two calendar clients, and the engine,
// then runs either a single pass or the cron-scheduled daemon loop.
func startSync(cfgPath string, verbose, daemon bool) error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}
	logger.Info("config loaded",
		"caldav_url", cfg.CalDAV.URL,
		"caldav_calendar", cfg.CalDAV.Calendar,
		"google_calendar", cfg.Google.Calendar,
		"throttle", cfg.ThrottleInterval,
	)

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	// --- State DB ------------------------------------------------------------

	dbPath := cfg.StatePath
	if dbPath == "" {
		dbPath, err = state.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolving state DB path: %w", err)
		}
	}
	store, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening state DB at %q: %w", dbPath, err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("closing state DB", "error", closeErr)
		}
	}()
	logger.Info("state DB opened", "path", dbPath, "records", store.Len())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- CalDAV source -------------------------------------------------------

	src, err := caldav.NewClient(ctx, cfg.CalDAV.URL, cfg.CalDAV.Username, cfg.CalDAV.Password, cfg.CalDAV.Calendar, logger)
	if err != nil {
		return fmt.Errorf("connecting to CalDAV server at %q: %w", cfg.CalDAV.URL, err)
	}

	// --- Google Calendar destination -----------------------------------------

	tokenPath, err := resolveTokenPath(cfg)
	if err != nil {
		return err
	}
	oauthCfg := gcal.OAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret)
	ts, err := gcal.TokenSource(ctx, oauthCfg, tokenPath)
	if err != nil {
		return fmt.Errorf("loading Google token from %q (run 'caldav2google auth' first): %w", tokenPath, err)
	}
	dst, err := gcal.NewClient(ctx, cfg.Google.Calendar, logger, option.WithTokenSource(ts))
	if err != nil {
		return fmt.Errorf("connecting to Google Calendar: %w", err)
	}

	// --- Engine --------------------------------------------------------------

	var throttle syncp.Throttle
	if cfg.ThrottleInterval > 0 {
		throttle = syncp.NewIntervalThrottle(cfg.ThrottleInterval)
	} else {
		throttle = syncp.NoThrottle()
	}
	engine := syncp.NewEngine(src, dst, store, throttle, logger)

	if !daemon {
		logger.Info("running single sync pass")
		_, err := engine.Run(ctx)
		return err
	}

	return runDaemon(ctx, engine, cfg.Schedule, logger)
}

// runDaemon runs sync passes on the configured cron schedule until the
// context is cancelled. Passes never overlap: if a pass is still running
// when the next tick fires, the tick is skipped.
func runDaemon(ctx context.Context, engine *syncp.Engine, schedule string, logger *slog.Logger) error {
	var running sync.Mutex

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if !running.TryLock() {
			logger.Warn("previous sync pass still running, skipping this tick")
			return
		}
		defer running.Unlock()

		if _, err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("sync pass failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	logger.Info("daemon starting", "schedule", schedule)

	// Run one pass immediately; the schedule covers subsequent passes.
	running.Lock()
	if _, err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("sync pass failed", "error", err)
	}
	running.Unlock()

	c.Start()
	<-ctx.Done()

	// Let an in-flight pass finish before exiting.
	stopCtx := c.Stop()
	<-stopCtx.Done()
	running.Lock()
	logger.Info("shutdown complete")
	return nil
}

// resolveTokenPath returns the configured token path or the default.
func resolveTokenPath(cfg *config.Config) (string, error) {
	if cfg.Google.TokenPath != "" {
		return cfg.Google.TokenPath, nil
	}
	path, err := gcal.DefaultTokenPath()
	if err != nil {
		return "", fmt.Errorf("resolving token path: %w", err)
	}
	return path, nil
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
