package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/GoCodeAlone/ctrlloop"
	"github.com/GoCodeAlone/ctrlloop/config"
	"github.com/GoCodeAlone/ctrlloop/logging"
	"github.com/GoCodeAlone/ctrlloop/metrics"
	"github.com/GoCodeAlone/ctrlloop/modules/avoider"
	"github.com/GoCodeAlone/ctrlloop/modules/bridge"
	"github.com/GoCodeAlone/ctrlloop/modules/configwatcher"
	"github.com/GoCodeAlone/ctrlloop/modules/eventlogger"
	"github.com/GoCodeAlone/ctrlloop/modules/scheduler"
	"github.com/GoCodeAlone/ctrlloop/modules/sensor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// reloaderName owns the host's own config_reloaded subscription.
const reloaderName = "log_level"

// App is an assembled host: logger, metrics, bus, manager, loop and modules.
type App struct {
	Config   *config.AppConfig
	Logger   *logging.Logger
	Registry *prometheus.Registry
	Subject  *ctrlloop.EventSubject
	Bus      *ctrlloop.SignalBus
	Manager  *ctrlloop.ModuleManager
	Loop     *ctrlloop.ControlLoop

	Avoider *avoider.Module
	Sensor  *sensor.Module
	Bridge  *bridge.Module
}

type appOptions struct {
	configPath string
	events     io.Writer
	logger     *logging.Logger
}

// AppOption adjusts how an App is built.
type AppOption func(*appOptions)

// WithConfigPath names the file the config watcher follows.
func WithConfigPath(path string) AppOption {
	return func(o *appOptions) { o.configPath = path }
}

// WithEventWriter sends event logger console output to w instead of stdout.
func WithEventWriter(w io.Writer) AppOption {
	return func(o *appOptions) { o.events = w }
}

// WithLogger uses logger instead of building one from the configuration.
func WithLogger(logger *logging.Logger) AppOption {
	return func(o *appOptions) { o.logger = logger }
}

// NewApp builds every component described by cfg and loads the enabled
// modules. Nothing runs until Run.
func NewApp(cfg *config.AppConfig, opts ...AppOption) (*App, error) {
	o := appOptions{events: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		if logger, err = logging.New(cfg.Log); err != nil {
			return nil, err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promMetrics, err := metrics.NewPrometheus(registry, cfg.Metrics.Namespace)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	subject := ctrlloop.NewEventSubject(logger)
	bus := ctrlloop.NewSignalBus(
		ctrlloop.WithMaxDepth(cfg.Bus.MaxDepth),
		ctrlloop.WithQueueSize(cfg.Bus.QueueSize),
		ctrlloop.WithBusLogger(logger),
		ctrlloop.WithBusMetrics(promMetrics),
		ctrlloop.WithSubject(subject),
	)
	manager := ctrlloop.NewModuleManager(bus,
		ctrlloop.WithManagerLogger(logger),
		ctrlloop.WithManagerMetrics(promMetrics),
		ctrlloop.WithManagerSubject(subject),
	)
	loop := ctrlloop.NewControlLoop(bus, manager,
		ctrlloop.WithTickInterval(cfg.Loop.TickInterval),
		ctrlloop.WithMaxTicks(cfg.Loop.MaxTicks),
		ctrlloop.WithShutdownTimeout(cfg.Loop.ShutdownTimeout),
		ctrlloop.WithLoopLogger(logger),
		ctrlloop.WithLoopMetrics(promMetrics),
		ctrlloop.WithLoopSubject(subject),
	)

	app := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		Subject:  subject,
		Bus:      bus,
		Manager:  manager,
		Loop:     loop,
	}
	if err := app.loadModules(o); err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) loadModules(o appOptions) error {
	cfg := a.Config
	var modules []ctrlloop.Module

	// The event logger goes first so it observes every later load.
	if cfg.Events.Enabled {
		events := cfg.Events
		if len(events.OutputTargets) == 0 {
			events.OutputTargets = eventlogger.DefaultConfig().OutputTargets
		}
		modules = append(modules, eventlogger.NewModule(&events, eventlogger.WithConsoleWriter(o.events)))
	}

	a.Avoider = avoider.New(cfg.Avoider)
	modules = append(modules, a.Avoider)

	if cfg.Sensor.Enabled {
		a.Sensor = sensor.New(cfg.Sensor.Config)
		modules = append(modules, a.Sensor)
	}

	if len(cfg.Scheduler.Tasks) > 0 || len(cfg.Scheduler.Jobs) > 0 {
		modules = append(modules, scheduler.NewModule(cfg.Scheduler))
	}

	if cfg.Watch.Enabled {
		if o.configPath == "" {
			a.Logger.Warn("Config watching needs a configuration file, skipping")
		} else {
			modules = append(modules,
				configwatcher.New(configwatcher.Config{Paths: []string{o.configPath}, Debounce: cfg.Watch.Debounce}, config.ReloadArgs),
				a.levelReloader(),
			)
		}
	}

	if cfg.Bridge.Enabled {
		a.Bridge = bridge.New(cfg.Bridge.Config, a.Manager, a.Registry)
		modules = append(modules, a.Bridge)
	}

	for _, m := range modules {
		if err := a.Manager.Load(m); err != nil {
			return fmt.Errorf("load %s: %w", m.Name(), err)
		}
	}
	return nil
}

// levelReloader applies log_level from config_reloaded to the host logger.
func (a *App) levelReloader() ctrlloop.Module {
	return &ctrlloop.ModuleFunc{
		ModuleName: reloaderName,
		OnInit: func(_ context.Context, host ctrlloop.Host) error {
			_, err := host.Connect(configwatcher.SignalConfigReloaded, ctrlloop.SubscriberFunc(
				func(_ context.Context, _ ctrlloop.Value, args ctrlloop.Args) error {
					level, ok := args.Text("log_level")
					if !ok || level == "" {
						return nil
					}
					if err := a.Logger.SetLevel(level); err != nil {
						return err
					}
					host.Logger().Info("Log level updated", "level", level)
					return nil
				}))
			return err
		},
	}
}

// Run drives the loop until ctx is done, a module requests a stop or the
// tick limit is reached, then closes the log file.
func (a *App) Run(ctx context.Context) error {
	return errors.Join(a.Loop.Run(ctx), a.Logger.Close())
}
