package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wishstash/wishstash/internal/client/api"
	"github.com/wishstash/wishstash/internal/client/auth"
	"github.com/wishstash/wishstash/internal/client/cli"
	"github.com/wishstash/wishstash/internal/client/data"
	"github.com/wishstash/wishstash/internal/client/iocli"
	"github.com/wishstash/wishstash/internal/client/realtime"
	"github.com/wishstash/wishstash/internal/client/storage/boltdb"
	"github.com/wishstash/wishstash/internal/client/sync"
	pkgapi "github.com/wishstash/wishstash/pkg/api"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// eventDialer adapts the HTTP client to the realtime coordinator
type eventDialer struct {
	client *api.Client
}

func (d eventDialer) DialEvents(ctx context.Context) (realtime.Stream, error) {
	return d.client.DialEvents(ctx)
}

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	serverURL := flag.String("server", "http://localhost:8080", "Server URL")
	dbPath := flag.String("db", "wishstash-client.db", "Path to local database")
	verbose := flag.Bool("verbose", false, "Enable debug logging")

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	io := iocli.NewStdio()

	args := flag.Args()
	if len(args) == 0 {
		cli.New(io, nil, nil, nil, nil, nil).PrintUsage()
		os.Exit(1)
	}
	command := args[0]

	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	// Ctrl+C cancels long-running commands like watch
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := boltdb.New(ctx, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	apiClient := api.NewClient(*serverURL)
	authService := auth.NewService(apiClient, store, logger)
	dataService := data.NewService(store)

	engine := sync.NewEngine(apiClient, store, store, logger, func(collection string, conflicts []pkgapi.Conflict) {
		io.Printf("⚠️  %d change(s) in %s were superseded by the server\n", len(conflicts), collection)
	})
	orchestrator := sync.NewOrchestrator(engine, logger, 0)

	coordinator := realtime.NewCoordinator(realtime.Config{
		Dialer: eventDialer{client: apiClient},
		Logger: logger,
		Notify: orchestrator.HandleNotification,
		// Events are not replayed after a reconnect; a full sync closes
		// the gap.
		OnConnect: orchestrator.TriggerAll,
		RefreshAuth: func(ctx context.Context) error {
			return authService.Refresh(ctx)
		},
	})

	app := cli.New(io, authService, dataService, engine, orchestrator, coordinator)
	if err := app.Run(ctx, command, args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("WishStash Client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
