package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wslabel/wslabel/internal/ipc"
	"github.com/wslabel/wslabel/internal/metrics"
	"github.com/wslabel/wslabel/internal/rename"
	"github.com/wslabel/wslabel/internal/tree"
	"github.com/wslabel/wslabel/internal/util"
)

// Commander is the serialized window manager connection used for replans.
type Commander interface {
	FetchTree(ctx context.Context) (*tree.Node, error)
	Execute(ctx context.Context, command string) ([]ipc.CommandOutcome, error)
}

// EventSource is a read-only event stream.
type EventSource interface {
	Events() <-chan ipc.Event
	Err() error
	Close() error
}

// SubscribeFunc opens the event stream watched by Run.
type SubscribeFunc func(ctx context.Context) (EventSource, error)

// EventKinds lists the event streams the watcher subscribes to.
var EventKinds = []ipc.EventType{ipc.EventWindow, ipc.EventWorkspace}

// SubscribeAt returns a SubscribeFunc that opens a dedicated event
// connection at path.
func SubscribeAt(path string, logger *util.Logger) SubscribeFunc {
	return func(ctx context.Context) (EventSource, error) {
		sub, err := ipc.Subscribe(ctx, path, logger, EventKinds...)
		if err != nil {
			return nil, err
		}
		return sub, nil
	}
}

// Options configures an Engine.
type Options struct {
	IncludeFloating bool
	DryRun          bool
	Metrics         *metrics.Collector
	Subscribe       SubscribeFunc
}

// Plan is the most recently computed rename plan.
type Plan struct {
	Reason     string             `json:"reason"`
	ComputedAt time.Time          `json:"computedAt"`
	DryRun     bool               `json:"dryRun,omitempty"`
	Directives []rename.Directive `json:"directives"`
}

// Engine watches window manager events and keeps workspace names in sync
// with the windows they hold.
type Engine struct {
	cmd       Commander
	logger    *util.Logger
	planner   rename.Planner
	dryRun    bool
	metrics   *metrics.Collector
	subscribe SubscribeFunc

	mu       sync.Mutex
	lastPlan *Plan
}

// New creates an engine that plans with lookup and executes through cmd.
func New(cmd Commander, lookup *rename.Lookup, logger *util.Logger, opts Options) *Engine {
	return &Engine{
		cmd:    cmd,
		logger: logger,
		planner: rename.Planner{
			Lookup:          lookup,
			IncludeFloating: opts.IncludeFloating,
		},
		dryRun:    opts.DryRun,
		metrics:   opts.Metrics,
		subscribe: opts.Subscribe,
	}
}

// Classify reports whether ev changes which windows a workspace holds.
func Classify(ev ipc.Event) bool {
	switch ev.Type {
	case ipc.EventWindow:
		switch ev.Change {
		case "new", "close", "move", "floating":
			return true
		}
	case ipc.EventWorkspace:
		switch ev.Change {
		case "init", "empty", "move":
			return true
		}
	}
	return false
}

// Run subscribes to events, relabels once, then replans on every
// qualifying event until ctx ends, the event stream ends, or a replan
// hits a connection-level failure.
func (e *Engine) Run(ctx context.Context) error {
	if e.subscribe == nil {
		return errors.New("engine: no event subscription configured")
	}
	stream, err := e.subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to events: %w", err)
	}
	defer stream.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.replan(gctx, "startup")
	})
	g.Go(func() error {
		return e.watch(gctx, g, stream)
	})
	return g.Wait()
}

func (e *Engine) watch(ctx context.Context, g *errgroup.Group, stream EventSource) error {
	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				err := stream.Err()
				if err == nil {
					err = ipc.ErrStreamClosed
				}
				return fmt.Errorf("event watcher: %w", err)
			}
			triggered := Classify(ev)
			e.metrics.RecordEvent(ev.Type.String(), ev.Change, triggered)
			e.trace("event.received", map[string]any{
				"kind":      ev.Type.String(),
				"change":    ev.Change,
				"triggered": triggered,
			})
			if !triggered {
				continue
			}
			reason := ev.Type.String() + ":" + ev.Change
			e.logger.Debugf("replan triggered by %s", reason)
			g.Go(func() error {
				return e.replan(ctx, reason)
			})
		}
	}
}

// replan runs one planning cycle. Failures confined to the cycle are
// logged; connection-level failures are returned.
func (e *Engine) replan(ctx context.Context, reason string) error {
	err := e.Relabel(ctx, reason)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if isLocal(err) {
		e.logger.Errorf("replan (%s) aborted: %v", reason, err)
		return nil
	}
	return fmt.Errorf("replan (%s): %w", reason, err)
}

// isLocal reports whether err only spoils the current replan.
func isLocal(err error) bool {
	if errors.Is(err, tree.ErrInvalidTree) {
		return true
	}
	var protoErr *ipc.ProtocolError
	if errors.As(err, &protoErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) && !ipc.IsConnectionFault(err)
}

// Relabel fetches a fresh tree and applies its rename plan. Rejected
// renames are logged and counted but do not fail the call.
func (e *Engine) Relabel(ctx context.Context, reason string) error {
	started := time.Now()
	err := e.relabel(ctx, reason)
	e.metrics.RecordReplan(started, err)
	return err
}

func (e *Engine) relabel(ctx context.Context, reason string) error {
	plan, err := e.PreviewPlan(ctx)
	if err != nil {
		return err
	}
	e.storePlan(reason, plan)
	if len(plan) == 0 {
		e.logger.Debugf("replan (%s): names already current", reason)
		return nil
	}
	for _, d := range plan {
		command := d.Command()
		if e.dryRun {
			e.logger.Infof("[dry-run] %s", command)
			continue
		}
		e.logger.Debugf("executing %s", command)
		outcomes, err := e.cmd.Execute(ctx, command)
		if err != nil {
			return fmt.Errorf("rename workspace %d: %w", d.Num, err)
		}
		if msg, rejected := rejection(outcomes); rejected {
			e.metrics.RecordRename(false)
			e.logger.Warnf("window manager rejected %s: %s", command, msg)
			continue
		}
		e.metrics.RecordRename(true)
		e.logger.Infof("renamed workspace %q to %q", d.OldName, d.NewName)
	}
	return nil
}

func rejection(outcomes []ipc.CommandOutcome) (string, bool) {
	for _, outcome := range outcomes {
		if outcome.Success {
			continue
		}
		if outcome.Error == "" {
			return "unknown error", true
		}
		return outcome.Error, true
	}
	return "", false
}

// PreviewPlan computes the rename plan for the current tree without
// executing it.
func (e *Engine) PreviewPlan(ctx context.Context) ([]rename.Directive, error) {
	root, err := e.cmd.FetchTree(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch tree: %w", err)
	}
	plan, err := e.planner.Plan(root)
	if err != nil {
		return nil, err
	}
	for _, d := range plan {
		e.trace("plan.directive", map[string]any{
			"num":  d.Num,
			"from": d.OldName,
			"to":   d.NewName,
		})
	}
	return plan, nil
}

func (e *Engine) storePlan(reason string, directives []rename.Directive) {
	plan := &Plan{
		Reason:     reason,
		ComputedAt: time.Now(),
		DryRun:     e.dryRun,
		Directives: append([]rename.Directive(nil), directives...),
	}
	e.mu.Lock()
	e.lastPlan = plan
	e.mu.Unlock()
}

// LastPlan returns a copy of the most recent plan, or nil before the
// first replan.
func (e *Engine) LastPlan() *Plan {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastPlan == nil {
		return nil
	}
	clone := *e.lastPlan
	clone.Directives = append([]rename.Directive(nil), e.lastPlan.Directives...)
	return &clone
}

// Lookup returns the label table used for planning.
func (e *Engine) Lookup() *rename.Lookup {
	return e.planner.Lookup
}

func (e *Engine) trace(event string, fields map[string]any) {
	if !e.logger.Enabled(util.LevelTrace) {
		return
	}
	e.logger.Tracef("%s %s", event, formatTraceFields(fields))
}

func formatTraceFields(fields map[string]any) string {
	if len(fields) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte(':')
		val, err := json.Marshal(fields[k])
		if err != nil {
			b.WriteString(strconv.Quote(fmt.Sprintf("<marshal error: %v>", err)))
			continue
		}
		b.Write(val)
	}
	b.WriteByte('}')
	return b.String()
}
