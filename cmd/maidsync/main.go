// cmd/maidsync/main.go
//
// Entry point for maidsync. Run it from a project directory:
//
//	maidsync              terminal UI mirroring the selected maid
//	maidsync -headless    no UI; drains on a ticker and logs refreshes
//
// Flow:
// 1. Create .maidsync/ and load config (file, then MAIDSYNC_* env)
// 2. Open the maid journal and seed the demo roster when empty
// 3. Build the mirror engine and the hook bus over the chosen consumer
// 4. Start the HTTP bridge and, in demo mode, the simulator
// 5. Hand control to the TUI or the headless loop until quit or signal

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kingrea/maidsync/internal/bridge"
	"github.com/kingrea/maidsync/internal/change"
	"github.com/kingrea/maidsync/internal/config"
	"github.com/kingrea/maidsync/internal/hookbus"
	"github.com/kingrea/maidsync/internal/logbook"
	"github.com/kingrea/maidsync/internal/logging"
	"github.com/kingrea/maidsync/internal/maid"
	"github.com/kingrea/maidsync/internal/mirror"
	"github.com/kingrea/maidsync/internal/tui"
)

type options struct {
	projectDir string
	headless   bool
	demo       bool
	selectID   string
}

func main() {
	var opts options
	flag.StringVar(&opts.projectDir, "project", "", "path to the project directory (defaults to cwd)")
	flag.BoolVar(&opts.headless, "headless", false, "run without the terminal UI")
	flag.BoolVar(&opts.demo, "demo", false, "run the built-in simulator (overrides demo.enabled)")
	flag.StringVar(&opts.selectID, "select", "", "maid to mirror in headless mode")
	flag.Parse()

	project := opts.projectDir
	if project == "" {
		var err error
		project, err = os.Getwd()
		if err != nil {
			die("determine working directory: %v", err)
		}
	}
	absoluteProject, err := filepath.Abs(project)
	if err != nil {
		die("resolve project dir: %v", err)
	}
	if err := config.InitDir(absoluteProject); err != nil {
		die("init %s: %v", config.Dir, err)
	}
	cfg, err := config.NewConfig(absoluteProject)
	if err != nil {
		die("load config: %v", err)
	}
	if opts.demo {
		cfg.Project.Demo.Enabled = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, opts); err != nil {
		die("%v", err)
	}
}

// app bundles what both run modes share.
type app struct {
	cfg      *config.Config
	log      *logging.Logger
	store    *maid.Store
	engine   *mirror.Engine
	registry *prometheus.Registry
}

func run(ctx context.Context, cfg *config.Config, opts options) error {
	log, err := logging.New(cfg.ProjectDir, logging.ParseLevel(cfg.Project.Log.Level))
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer log.Close()

	store, err := maid.Open(ctx, cfg.StorePath(), maid.WithLogger(log))
	if err != nil {
		return err
	}
	defer store.Close()
	if n, err := maid.Seed(ctx, store); err != nil {
		return fmt.Errorf("seed roster: %w", err)
	} else if n > 0 {
		log.Infof("seeded %d demo maids", n)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	engine := mirror.New(store,
		mirror.WithLogger(log),
		mirror.WithMetrics(mirror.NewMetrics(registry)),
		mirror.WithLockStore(store),
		mirror.WithRemoveValueLimit(cfg.Project.Engine.RemoveValueLimit),
	)
	locks, err := store.Locks(ctx)
	if err != nil {
		return err
	}
	engine.Locks().Load(locks)
	engine.Forced().Load(store.Forced())
	log.Infof("loaded %d locks for %d maids", len(locks), store.Len())

	a := &app{cfg: cfg, log: log, store: store, engine: engine, registry: registry}
	if opts.headless {
		return a.runHeadless(ctx, change.Entity(opts.selectID))
	}
	return a.runTUI(ctx)
}

func (a *app) newBus(poster hookbus.Poster) *hookbus.Bus {
	return hookbus.New(poster, a.engine,
		hookbus.WithLogger(a.log),
		hookbus.WithDedupeWindow(a.cfg.Project.Bus.DedupeWindow),
	)
}

// startSidecars starts the bridge and simulator and returns a function that
// stops both.
func (a *app) startSidecars(ctx context.Context, bus *hookbus.Bus) func() {
	ctx, cancel := context.WithCancel(ctx)
	srv := bridge.NewServer(bridge.SettingsFromConfig(a.cfg), bus,
		bridge.WithLocks(a.engine),
		bridge.WithGatherer(a.registry),
		bridge.WithLogger(a.log),
	)
	if err := srv.Start(ctx); err != nil {
		if errors.Is(err, bridge.ErrDisabled) {
			a.log.Infof("bridge disabled")
		} else {
			a.log.Warnf("bridge: %v", err)
		}
	}
	done := make(chan struct{})
	if a.cfg.Project.Demo.Enabled {
		sim := maid.NewSimulator(a.store, a.cfg.Project.Demo.Interval.Std(), a.cfg.Project.Demo.Seed, a.log)
		go func() {
			defer close(done)
			_ = sim.Run(ctx)
		}()
		a.log.Infof("demo simulator running every %s", a.cfg.Project.Demo.Interval.Std())
	} else {
		close(done)
	}
	return func() {
		cancel()
		<-done
		if err := srv.Shutdown(context.Background()); err != nil {
			a.log.Warnf("bridge shutdown: %v", err)
		}
	}
}

func (a *app) runTUI(ctx context.Context) error {
	lb, err := logbook.New(a.cfg.LogbookPath())
	if err != nil {
		return fmt.Errorf("open logbook: %w", err)
	}
	poster := &tui.ProgramPoster{}
	bus := a.newBus(poster)
	view := tui.NewApp(ctx, a.engine, a.store,
		tui.WithLogbook(lb),
		tui.WithNameStyle(maid.ParseNameStyle(a.cfg.Project.Display.NameStyle)),
		tui.WithDrainInterval(a.cfg.Project.Engine.DrainInterval.Std()),
		tui.WithValueLimitHook(a.cfg.SetRemoveValueLimit),
	)
	program := tea.NewProgram(view, tea.WithAltScreen(), tea.WithContext(ctx))
	poster.Bind(program)
	a.store.Attach(bus)

	stopSidecars := a.startSidecars(ctx, bus)
	_, err = program.Run()
	poster.Close()
	stopSidecars()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run TUI: %w", err)
	}
	return nil
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "maidsync: "+format+"\n", args...)
	os.Exit(1)
}
