package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wesm/dashai/internal/agent"
	"github.com/wesm/dashai/internal/config"
	"github.com/wesm/dashai/internal/db"
	"github.com/wesm/dashai/internal/logging"
	"github.com/wesm/dashai/internal/server"
	"github.com/wesm/dashai/internal/tools"
	"github.com/wesm/dashai/internal/watch"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

const shutdownTimeout = 10 * time.Second

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "version", "--version", "-v":
			fmt.Printf("dashai %s (commit %s, built %s)\n",
				version, commit, buildDate)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	runServe(os.Args[1:])
}

func printUsage() {
	fmt.Printf(`dashai %s - analytics dashboard API with a chat agent

Serves chart aggregations over the commerce and campaign dataset in
SQLite, and bridges chat questions to an external LLM agent.

Usage:
  dashai [flags]          Start the server (default command)
  dashai serve [flags]    Start the server (explicit)
  dashai version          Show version information
  dashai help             Show this help

Server flags:
  -config string         YAML config file
  -host string           Host to bind to (default "127.0.0.1")
  -port int              Port to listen on (default 8000)
  -db string             SQLite database (default app.db beside the binary)
  -static-dir string     Directory holding schema.png (default "static")
  -agent-command string  Command that starts the chat agent
  -log-level string      Log level (default "info")

Environment variables:
  DASHAI_CONFIG          YAML config file
  DASHAI_<SECTION>_<KEY> Override any config key, e.g.
                         DASHAI_SERVER_PORT, DASHAI_AGENT_COMMAND,
                         DASHAI_AGENT_PASS_ENV=OPENAI_API_KEY

A .env file in the working directory is loaded first.
`, version)
}

func runServe(args []string) {
	cfg, err := loadConfig(args)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "dashai: %v\n", err)
		os.Exit(2)
	}
	logging.Init(logConfig(cfg))

	database, err := openDB(cfg)
	if err != nil {
		fatal(err, "opening database")
	}
	defer database.Close()

	srv := server.New(cfg, database,
		server.WithRuntime(newRuntime(cfg, tools.NewRegistry(database))),
		server.WithVersion(server.VersionInfo{
			Version:   version,
			Commit:    commit,
			BuildDate: buildDate,
		}),
	)

	stopWatcher := startDBWatcher(cfg, srv)
	defer stopWatcher()

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	logging.Info().
		Str("version", version).
		Str("db", database.Path()).
		Msg("dashai starting")
	if err := serve(ctx, srv); err != nil {
		fatal(err, "server error")
	}
}

// loadConfig parses serve flags and layers them over file and env.
func loadConfig(args []string) (config.Config, error) {
	fs := flag.NewFlagSet("dashai", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(),
			"Usage: dashai [serve] [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	config.RegisterServeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	if fs.NArg() > 0 {
		return config.Config{}, fmt.Errorf(
			"unexpected argument %q", fs.Arg(0))
	}
	return config.Load(fs)
}

func logConfig(cfg config.Config) logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = cfg.Logging.Level
	lc.Format = cfg.Logging.Format
	return lc
}

// openDB opens the dataset read-only. A missing file is logged, not
// fatal: the loader may not have run yet.
func openDB(cfg config.Config) (*db.DB, error) {
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(database.Path()); err != nil {
		logging.Warn().Err(err).Str("db", database.Path()).
			Msg("database file not found; charts fail until the loader runs")
	}
	return database, nil
}

// newRuntime builds the agent runtime behind a circuit breaker.
// Without a usable agent command the chat endpoints answer 503.
func newRuntime(cfg config.Config, tb agent.Toolbox) agent.Runtime {
	proc, err := agent.NewProcess(cfg.Agent.Command, tb, cfg.Agent.PassEnv)
	if errors.Is(err, agent.ErrAgentUnavailable) {
		logging.Warn().Msg("no agent command configured; chat disabled")
		return agent.Unavailable
	}
	if err != nil {
		logging.Error().Err(err).Msg("chat agent unavailable")
		return agent.Unavailable
	}
	return agent.NewBreaker(proc, agent.BreakerConfig{
		Failures: cfg.Agent.BreakerFailures,
		Cooldown: cfg.Agent.BreakerCooldown,
	})
}

// startDBWatcher drops the schema cache whenever the loader rewrites
// the database. It returns a stop func.
func startDBWatcher(cfg config.Config, srv *server.Server) func() {
	w, err := watch.New(cfg.Database.Path, cfg.Watch.Debounce,
		func(string) { srv.InvalidateSchema() })
	if err != nil {
		logging.Warn().Err(err).Msg("database watcher unavailable")
		return func() {}
	}
	w.Start()
	return w.Stop
}

// serve runs srv until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, srv *server.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logging.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), shutdownTimeout,
	)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func fatal(err error, msg string) {
	logging.Error().Err(err).Msg(msg)
	os.Exit(1)
}
