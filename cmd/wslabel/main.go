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
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/wslabel/wslabel/internal/actor"
	"github.com/wslabel/wslabel/internal/config"
	"github.com/wslabel/wslabel/internal/control"
	"github.com/wslabel/wslabel/internal/engine"
	"github.com/wslabel/wslabel/internal/ipc"
	"github.com/wslabel/wslabel/internal/metrics"
	"github.com/wslabel/wslabel/internal/util"
)

const startupTimeout = 5 * time.Second

type exitStatus struct {
	component string
	err       error
}

func main() {
	cfgPath := flag.String("config", config.DefaultPath(), "path to YAML config")
	dryRun := flag.Bool("dry-run", false, "log renames instead of executing them")
	logLevel := flag.String("log-level", "info", "log level (trace|debug|info|warn|error)")
	socketOverride := flag.String("socket", "", "window manager IPC socket (defaults to $I3SOCK, $SWAYSOCK, or i3 --get-socketpath)")
	controlSocket := flag.String("control-socket", "", "control socket path (defaults to $WSLABEL_CONTROL_SOCKET or $XDG_RUNTIME_DIR/wslabel/control.sock)")
	flag.Parse()

	logger := util.NewLogger(util.ParseLogLevel(*logLevel))

	raw, err := os.ReadFile(*cfgPath)
	if err != nil {
		exitErr(fmt.Errorf("load config: read config: %w", err))
	}
	cfg, err := config.Parse(raw)
	if err != nil {
		exitErr(fmt.Errorf("load config %s: %w", *cfgPath, err))
	}
	lookup := cfg.Lookup()
	logger.Infof("loaded %d window class label(s) from %s", lookup.Len(), *cfgPath)

	cfgFullPath, err := filepath.Abs(*cfgPath)
	if err != nil {
		exitErr(fmt.Errorf("resolve config path: %w", err))
	}
	cfgFullPath = filepath.Clean(cfgFullPath)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		exitErr(fmt.Errorf("watch config: %w", err))
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(cfgFullPath)); err != nil {
		exitErr(fmt.Errorf("watch config dir: %w", err))
	}
	if err := watcher.Add(cfgFullPath); err != nil {
		logger.Debugf("unable to watch config file directly: %v", err)
	}
	configChanges := make(chan string, 1)
	go watchConfig(logger, watcher, cfgFullPath, configChanges)
	monitor := newConfigMonitor(cfgFullPath, logger.With("config"), cfg, raw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startCtx, startCancel := context.WithTimeout(ctx, startupTimeout)
	socketPath, err := ipc.SocketPath(startCtx, *socketOverride)
	if err != nil {
		startCancel()
		exitErr(err)
	}
	conn, err := ipc.Dial(startCtx, socketPath)
	if err != nil {
		startCancel()
		exitErr(err)
	}
	defer conn.Close()
	version, err := conn.GetVersion(startCtx)
	startCancel()
	if err != nil {
		exitErr(fmt.Errorf("query window manager version: %w", err))
	}
	logger.Infof("connected to %s at %s", version.HumanReadable, socketPath)
	if *dryRun {
		logger.Infof("dry-run enabled, renames will only be logged")
	}

	collector := metrics.NewCollector()
	commander := actor.New(conn, logger.With("actor"), actor.Options{Timeout: cfg.CommandTimeout})
	eng := engine.New(commander, lookup, logger.With("engine"), engine.Options{
		IncludeFloating: cfg.IncludeFloating,
		DryRun:          *dryRun,
		Metrics:         collector,
		Subscribe:       engine.SubscribeAt(socketPath, logger.With("events")),
	})
	ctrlSrv, err := control.NewServer(eng, logger.With("control"), control.Options{
		SocketPath: *controlSocket,
		Metrics:    collector,
		DryRun:     *dryRun,
		ActorState: func() string { return commander.State().String() },
	})
	if err != nil {
		exitErr(fmt.Errorf("start control server: %w", err))
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	exits := make(chan exitStatus, 3)
	go func() {
		exits <- exitStatus{"command actor", commander.Run(ctx)}
	}()
	go func() {
		exits <- exitStatus{"engine", eng.Run(ctx)}
	}()
	go func() {
		exits <- exitStatus{"control server", ctrlSrv.Serve(ctx)}
	}()

	for {
		select {
		case exit := <-exits:
			if exit.component == "control server" && exit.err != nil && ctx.Err() == nil {
				logger.Warnf("control server unavailable: %v", exit.err)
				continue
			}
			cancel()
			commander.Close()
			if exit.err != nil && !errors.Is(exit.err, context.Canceled) {
				logger.Errorf("%s exited: %v", exit.component, exit.err)
				os.Exit(1)
			}
			logger.Infof("%s stopped", exit.component)
			return
		case reason := <-configChanges:
			if err := monitor.Check(reason); err != nil {
				logger.Errorf("config check failed: %v", err)
			}
		case sig := <-sigs:
			switch sig {
			case syscall.SIGHUP:
				go func() {
					if err := eng.Relabel(ctx, "received SIGHUP"); err != nil && ctx.Err() == nil {
						logger.Errorf("relabel failed: %v", err)
					}
				}()
			case os.Interrupt, syscall.SIGTERM:
				logger.Infof("received %s, shutting down", sig)
				cancel()
			}
		}
	}
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
