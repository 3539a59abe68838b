package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wslabel/wslabel/internal/config"
	"github.com/wslabel/wslabel/internal/engine"
	"github.com/wslabel/wslabel/internal/ipc"
	"github.com/wslabel/wslabel/internal/tree"
	"github.com/wslabel/wslabel/internal/util"
)

// smokeCommander reads the live tree but never executes commands.
type smokeCommander struct {
	conn *ipc.Conn
}

func (c smokeCommander) FetchTree(ctx context.Context) (*tree.Node, error) {
	return c.conn.GetTree(ctx)
}

func (c smokeCommander) Execute(context.Context, string) ([]ipc.CommandOutcome, error) {
	return nil, errors.New("smoke run is read-only")
}

func main() {
	cfgPath := flag.String("config", config.DefaultPath(), "path to YAML config")
	logLevel := flag.String("log-level", "info", "log level (trace|debug|info|warn|error)")
	socketOverride := flag.String("socket", "", "window manager IPC socket")
	dumpTree := flag.Bool("tree", false, "print the raw layout tree")
	flag.Parse()

	logger := util.NewLogger(util.ParseLogLevel(*logLevel))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		exitErr(fmt.Errorf("load config: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	socketPath, err := ipc.SocketPath(ctx, *socketOverride)
	if err != nil {
		exitErr(err)
	}
	conn, err := ipc.Dial(ctx, socketPath)
	if err != nil {
		exitErr(err)
	}
	defer conn.Close()

	version, err := conn.GetVersion(ctx)
	if err != nil {
		exitErr(fmt.Errorf("query version: %w", err))
	}
	root, err := conn.GetTree(ctx)
	if err != nil {
		exitErr(fmt.Errorf("fetch tree: %w", err))
	}

	fmt.Printf("Loaded config from %s\n", *cfgPath)
	fmt.Printf("Connected to %s at %s\n", version.HumanReadable, socketPath)
	fmt.Println("\n=== Configuration ===")
	if err := marshalYAML(os.Stdout, cfg); err != nil {
		logger.Warnf("failed to print config: %v", err)
	}

	if *dumpTree {
		fmt.Println("\n=== Layout Tree ===")
		if err := marshalJSON(os.Stdout, root); err != nil {
			logger.Warnf("failed to print tree: %v", err)
		}
	}

	fmt.Println("\n=== Workspaces ===")
	if err := printWorkspaces(os.Stdout, root, cfg); err != nil {
		exitErr(err)
	}

	eng := engine.New(smokeCommander{conn: conn}, cfg.Lookup(), logger, engine.Options{
		IncludeFloating: cfg.IncludeFloating,
		DryRun:          true,
	})
	directives, err := eng.PreviewPlan(ctx)
	if err != nil {
		exitErr(fmt.Errorf("preview plan: %w", err))
	}
	if len(directives) == 0 {
		fmt.Println("\nNo renames planned for current snapshot.")
		return
	}
	fmt.Println("\n=== Planned Renames ===")
	for _, d := range directives {
		fmt.Println(d.Command())
	}
}

func printWorkspaces(w io.Writer, root *tree.Node, cfg *config.Config) error {
	workspaces, err := tree.WorkspaceNodes(root)
	if err != nil {
		return fmt.Errorf("list workspaces: %w", err)
	}
	for _, ws := range workspaces {
		classes := make([]string, 0)
		leaves := tree.LeafContentNodes(ws)
		if cfg.IncludeFloating {
			leaves = append(leaves, tree.FloatingLeafNodes(ws)...)
		}
		for _, leaf := range leaves {
			if class, ok := leaf.Class(); ok {
				classes = append(classes, class)
			}
		}
		num := "-"
		if n, ok := ws.Number(); ok {
			num = fmt.Sprint(n)
		}
		fmt.Fprintf(w, "[%s] %q windows=%v\n", num, ws.Name, classes)
	}
	return nil
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func marshalYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}

func marshalJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
