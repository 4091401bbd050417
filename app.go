package extoffset

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hugolhafner/extoffset/flusher"
	"github.com/hugolhafner/extoffset/logger"
	"github.com/hugolhafner/extoffset/offset"
	"github.com/hugolhafner/extoffset/runner"
	"golang.org/x/sync/errgroup"
)

const Version = "v0.1.0" // x-release-please-version

var (
	ErrAlreadyRunning = errors.New("application is already running")
	ErrClosed         = errors.New("application is closed")
)

// Application runs a fixed set of consume loops that share one offset cache,
// one store and one shutdown barrier.
type Application struct {
	config    Config
	store     offset.Store
	processor runner.Processor
	logger    logger.Logger

	health      *offset.Health
	manager     *offset.Manager
	checker     *offset.HealthChecker
	flusher     *flusher.Periodic
	coordinator *runner.ShutdownCoordinator
	loops       []*runner.Loop

	mu        sync.Mutex
	running   bool
	closeOnce sync.Once
	closedCh  chan struct{}
}

func NewApplication(store offset.Store, processor runner.Processor, opts ...ConfigOption) (*Application, error) {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	return NewApplicationWithConfig(store, processor, config)
}

func NewApplicationWithConfig(store offset.Store, processor runner.Processor, config Config) (*Application, error) {
	if err := validate(store, processor, config); err != nil {
		return nil, err
	}

	log := config.Logger.With("component", "application", "group", config.Group)

	health := offset.NewHealth()
	manager := offset.NewManager(
		offset.NewCache(), store, health,
		append(
			[]offset.ManagerOption{
				offset.WithCluster(config.Cluster),
				offset.WithGroup(config.Group),
				offset.WithLogger(config.Logger),
				offset.WithTelemetry(config.Telemetry),
			}, config.ManagerOptions...,
		)...,
	)

	periodic := flusher.NewPeriodic(
		manager, health,
		flusher.WithInterval(config.FlushInterval),
		flusher.WithMaxCount(config.FlushCount),
		flusher.WithLogger(config.Logger),
	)

	checker := offset.NewHealthChecker(
		store, health,
		offset.WithCheckInterval(config.HealthCheckInterval),
		offset.WithCheckerLogger(config.Logger),
	)

	coordinator := runner.NewShutdownCoordinator(
		config.Consumers, manager,
		append([]runner.ShutdownOption{runner.WithLogger(config.Logger)}, config.ShutdownOptions...)...,
	)

	a := &Application{
		config:      config,
		store:       store,
		processor:   processor,
		logger:      log,
		health:      health,
		manager:     manager,
		checker:     checker,
		flusher:     periodic,
		coordinator: coordinator,
		closedCh:    make(chan struct{}),
	}

	hooks := config.Hooks
	if hooks == nil {
		hooks = NewDefaultHooks(config.Logger)
	}
	serial := runner.NewSerialHooks(stopOnFailure{Hooks: hooks, stop: a.Close})

	a.loops = make([]*runner.Loop, 0, config.Consumers)
	for id := 0; id < config.Consumers; id++ {
		client, err := config.ClientFactory(id, manager.Lookup)
		if err != nil {
			for _, l := range a.loops {
				l.Consumer().Close()
			}
			return nil, fmt.Errorf("create client for consume loop %d: %w", id, err)
		}

		loopOpts := append(
			[]runner.LoopOption{
				runner.WithLogger(config.Logger),
				runner.WithTelemetry(config.Telemetry),
				runner.WithHooks(serial),
				runner.WithTrigger(periodic.Trigger()),
			}, config.LoopOptions...,
		)
		a.loops = append(a.loops, runner.NewLoop(id, client, config.Topics, processor, manager, coordinator, loopOpts...))
	}

	return a, nil
}

// stopOnFailure closes the application when a loop gives up. The failed loop
// waits at the shutdown barrier until its siblings stop too.
type stopOnFailure struct {
	runner.Hooks
	stop func()
}

func (s stopOnFailure) OnSessionTimeout(ctx context.Context, loop *runner.Loop) {
	s.Hooks.OnSessionTimeout(ctx, loop)
	s.stop()
}

func (s stopOnFailure) OnFatalError(ctx context.Context, loop *runner.Loop, err error) {
	s.Hooks.OnFatalError(ctx, loop, err)
	s.stop()
}

func validate(store offset.Store, processor runner.Processor, config Config) error {
	switch {
	case store == nil:
		return errors.New("offset store is required")
	case processor == nil:
		return errors.New("processor is required")
	case config.ClientFactory == nil:
		return errors.New("client factory is required")
	case config.Group == "":
		return errors.New("consumer group is required")
	case len(config.Topics) == 0:
		return errors.New("at least one topic is required")
	case config.Consumers < 1:
		return fmt.Errorf("consumers must be at least 1, got %d", config.Consumers)
	}
	return nil
}

func (a *Application) Manager() *offset.Manager {
	return a.manager
}

func (a *Application) Loops() []*runner.Loop {
	return a.loops
}

func (a *Application) Coordinator() *runner.ShutdownCoordinator {
	return a.coordinator
}

// Run drives every consume loop until ctx is cancelled, Close is called or a
// loop fails. A failing loop closes the application so that every loop reaches
// the shutdown barrier. The store is left open for the caller to close.
func (a *Application) Run(ctx context.Context) error {
	if err := a.startRunning(); err != nil {
		return err
	}
	defer a.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.closedCh:
			a.coordinator.Close()
			cancel()
		case <-runCtx.Done():
		}
	}()

	// the checker and flusher outlive runCtx until every loop has swept
	bgCtx, stopBackground := context.WithCancel(context.WithoutCancel(ctx))
	var background sync.WaitGroup
	background.Add(2)
	go func() {
		defer background.Done()
		a.checker.Run(bgCtx)
	}()
	go func() {
		defer background.Done()
		a.flusher.Run(bgCtx)
	}()

	a.logger.Info("Application started", "version", Version, "consumers", len(a.loops), "topics", a.config.Topics)

	var (
		errMu sync.Mutex
		errs  []error
	)
	g, gctx := errgroup.WithContext(runCtx)
	for _, l := range a.loops {
		g.Go(
			func() error {
				err := l.Run(gctx)
				if err != nil {
					errMu.Lock()
					errs = append(errs, err)
					errMu.Unlock()
				}
				return err
			},
		)
	}
	_ = g.Wait()

	a.flusher.Stop()
	stopBackground()
	background.Wait()

	if f, ok := a.processor.(runner.Finisher); ok {
		if err := f.Finish(context.WithoutCancel(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("finish processing: %w", err))
		}
	}

	a.logger.Info("Application stopped", "sweeps", a.coordinator.Sweeps())
	return errors.Join(errs...)
}

// Close stops a running application. Run returns once every loop has shut down.
func (a *Application) Close() {
	a.closeOnce.Do(
		func() {
			a.mu.Lock()
			defer a.mu.Unlock()

			a.running = false
			close(a.closedCh)
		},
	)
}

func (a *Application) startRunning() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return ErrAlreadyRunning
	}

	select {
	case <-a.closedCh:
		return ErrClosed
	default:
	}

	a.running = true
	return nil
}
