// ABOUTME: CLI entrypoint for the masthead dashboard with watch, tail, and demo modes.
// ABOUTME: Wires together the control loop, stream client, TUI, and the demo backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/windlass-sh/masthead/api"
	"github.com/windlass-sh/masthead/control"
	"github.com/windlass-sh/masthead/poll"
	"github.com/windlass-sh/masthead/sim"
	"github.com/windlass-sh/masthead/stream"
	"github.com/windlass-sh/masthead/tui"
)

var version = "dev"

// cliConfig holds flag values before merging with the config file.
type cliConfig struct {
	configPath  string
	backendURL  string
	demoMode    bool
	tailMode    bool
	port        int
	lag         time.Duration
	showVersion bool
}

func main() {
	cli, explicit := parseFlags()

	if cli.showVersion {
		fmt.Printf("masthead %s\n", version)
		os.Exit(0)
	}

	cfg, err := loadConfig(cli.configPath, explicit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if cli.backendURL != "" {
		cfg.BackendURL = cli.backendURL
	}
	if cli.port != 0 {
		cfg.Demo.Port = cli.port
	}
	if cli.lag != 0 {
		cfg.Demo.Lag = duration(cli.lag)
	}

	os.Exit(run(cli, cfg))
}

// parseFlags parses command-line flags. The second return reports whether
// -config was given explicitly.
func parseFlags() (cliConfig, bool) {
	var cli cliConfig

	fs := flag.NewFlagSet("masthead", flag.ContinueOnError)
	fs.StringVar(&cli.configPath, "config", "masthead.yaml", "Config file path")
	fs.StringVar(&cli.backendURL, "backend", "", "Backend base URL (overrides config)")
	fs.BoolVar(&cli.demoMode, "demo", false, "Run the local demo backend")
	fs.BoolVar(&cli.tailMode, "tail", false, "Print the event feed as plain text")
	fs.IntVar(&cli.port, "port", 0, "Demo backend port (overrides config)")
	fs.DurationVar(&cli.lag, "lag", 0, "Demo log availability lag (overrides config)")
	fs.BoolVar(&cli.showVersion, "version", false, "Print version and exit")

	fs.Usage = func() {
		printHelp(os.Stderr, version)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	explicit := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	return cli, explicit
}

// run dispatches to the selected mode. Returns an exit code.
func run(cli cliConfig, cfg fileConfig) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case cli.demoMode:
		return runDemo(ctx, cfg)
	case cli.tailMode:
		return runTail(ctx, cfg)
	default:
		return runWatch(ctx, cfg)
	}
}

// runWatch starts the control loop, the stream client, and the TUI.
func runWatch(ctx context.Context, cfg fileConfig) int {
	client := api.NewClient(cfg.BackendURL, nil)

	ctrl := control.New(control.Config{
		Client: client,
		Grace:  cfg.GracePeriod.std(),
		Cadence: poll.Cadence{
			List:   cfg.Poll.List.std(),
			Detail: cfg.Poll.Detail.std(),
			Slow:   cfg.Poll.Slow.std(),
		},
	})

	sc := &stream.Client{
		URL:                client.EventsURL(),
		OnEvent:            ctrl.HandleEvent,
		OnConnectionChange: ctrl.HandleConnectionChange,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ctrl.Run(ctx)
		return nil
	})
	g.Go(func() error {
		sc.Run(ctx)
		return nil
	})

	program := tea.NewProgram(tui.NewAppModel(ctrl), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	cancel()
	_ = g.Wait()

	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// runDemo serves the scripted demo backend until interrupted.
func runDemo(ctx context.Context, cfg fileConfig) int {
	store, err := sim.OpenStore(cfg.Demo.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer store.Close()

	server := sim.NewServer(store, cfg.Demo.Lag.std(), sim.DefaultCascades())
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Demo.Port),
		Handler: server.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("masthead demo backend on :%d (lag %s, db %s)", cfg.Demo.Port, cfg.Demo.Lag.std(), cfg.Demo.Database)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
