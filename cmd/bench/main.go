package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/wslabel/wslabel/internal/config"
	"github.com/wslabel/wslabel/internal/engine"
	"github.com/wslabel/wslabel/internal/ipc"
	"github.com/wslabel/wslabel/internal/rename"
	"github.com/wslabel/wslabel/internal/tree"
	"github.com/wslabel/wslabel/internal/util"
)

type benchFixture struct {
	Name   string
	Tree   json.RawMessage
	Labels map[string]string
	Events []benchEvent
}

type benchEvent struct {
	Event ipc.Event
	Delay time.Duration
}

type benchLatencyStats struct {
	Min    float64 `json:"minMs"`
	Mean   float64 `json:"meanMs"`
	Median float64 `json:"medianMs"`
	P95    float64 `json:"p95Ms"`
	Max    float64 `json:"maxMs"`
}

type benchAllocationStats struct {
	Total         uint64  `json:"totalAllocations"`
	PerReplan     float64 `json:"allocationsPerReplan"`
	BytesTotal    uint64  `json:"bytesTotal"`
	BytesPerEvent float64 `json:"bytesPerEvent"`
}

type benchSummary struct {
	Fixture            string               `json:"fixture"`
	Iterations         int                  `json:"iterations"`
	WarmupIterations   int                  `json:"warmupIterations"`
	EventsPerIteration int                  `json:"eventsPerIteration"`
	TotalEvents        int                  `json:"totalEvents"`
	Replans            int                  `json:"replans"`
	Renames            int                  `json:"renames"`
	Latency            benchLatencyStats    `json:"replanLatency"`
	Allocations        benchAllocationStats `json:"allocations"`
	TotalDurationMs    float64              `json:"totalDurationMs"`
	EventsPerSecond    float64              `json:"eventsPerSecond"`
}

type benchReport struct {
	Summary     benchSummary `json:"summary"`
	DurationsMs []float64    `json:"durationsMs"`
}

// benchCommander serves the fixture tree from memory and counts renames.
// Each fetch decodes the raw payload, as a live GET_TREE reply would.
type benchCommander struct {
	raw []byte

	mu      sync.Mutex
	renames int
}

func (b *benchCommander) FetchTree(context.Context) (*tree.Node, error) {
	return tree.Decode(b.raw)
}

func (b *benchCommander) Execute(_ context.Context, command string) ([]ipc.CommandOutcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.renames++
	return []ipc.CommandOutcome{{Success: true}}, nil
}

func (b *benchCommander) Renames() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.renames
}

func main() {
	cfgPath := flag.String("config", "", "path to YAML config (defaults to the fixture's labels)")
	fixturePath := flag.String("fixture", "", "path to replay fixture (JSON or event log); built-in when empty")
	iterations := flag.Int("iterations", 10, "number of times to replay the fixture")
	warmup := flag.Int("warmup", 0, "number of warm-up iterations to run before timing")
	cpuProfile := flag.String("cpu-profile", "", "write CPU profile to file")
	logLevel := flag.String("log-level", "warn", "log level (trace|debug|info|warn|error)")
	respectDelays := flag.Bool("respect-delays", false, "sleep for event delays declared in the fixture")
	outputPath := flag.String("output", "-", "write JSON report to file ('-' for stdout)")
	humanSummary := flag.Bool("human", false, "print a tabular summary alongside the JSON output")
	flag.Parse()

	if *iterations <= 0 {
		fmt.Fprintln(os.Stderr, "iterations must be positive")
		os.Exit(1)
	}
	if *warmup < 0 {
		fmt.Fprintln(os.Stderr, "warmup must be zero or positive")
		os.Exit(1)
	}

	logger := util.NewLogger(util.ParseLogLevel(*logLevel))

	fixture := defaultFixture()
	if *fixturePath != "" {
		loaded, err := loadFixture(*fixturePath, fixture)
		if err != nil {
			exitErr(fmt.Errorf("load fixture: %w", err))
		}
		fixture = loaded
	}
	if len(fixture.Events) == 0 {
		exitErr(errors.New("fixture contains no events"))
	}

	lookup := rename.NewLookup(fixture.Labels)
	includeFloating := false
	if *cfgPath != "" {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			exitErr(fmt.Errorf("load config: %w", err))
		}
		lookup = cfg.Lookup()
		includeFloating = cfg.IncludeFloating
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			exitErr(fmt.Errorf("create cpu profile: %w", err))
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			exitErr(fmt.Errorf("start cpu profile: %w", err))
		}
		defer pprof.StopCPUProfile()
	}

	ctx := context.Background()
	for i := 0; i < *warmup; i++ {
		if _, _, err := replayIteration(ctx, fixture, lookup, includeFloating, logger, false); err != nil {
			exitErr(fmt.Errorf("warmup %d: %w", i+1, err))
		}
	}

	var (
		durations []time.Duration
		renames   int
		start     runtime.MemStats
		end       runtime.MemStats
	)
	runtime.GC()
	runtime.ReadMemStats(&start)
	for i := 0; i < *iterations; i++ {
		iterDurations, iterRenames, err := replayIteration(ctx, fixture, lookup, includeFloating, logger, *respectDelays)
		if err != nil {
			exitErr(fmt.Errorf("iteration %d: %w", i+1, err))
		}
		durations = append(durations, iterDurations...)
		renames += iterRenames
	}
	runtime.ReadMemStats(&end)

	report := buildReport(fixture, *iterations, *warmup, durations, renames, start, end)
	if err := writeReport(report, *outputPath); err != nil {
		exitErr(fmt.Errorf("write report: %w", err))
	}
	if *humanSummary {
		if err := printHumanSummary(report.Summary, os.Stderr); err != nil {
			exitErr(fmt.Errorf("print summary: %w", err))
		}
	}
}

// replayIteration feeds every fixture event through a fresh engine and
// times the replans the qualifying ones trigger.
func replayIteration(ctx context.Context, fixture benchFixture, lookup *rename.Lookup, includeFloating bool, logger *util.Logger, respectDelays bool) ([]time.Duration, int, error) {
	cmd := &benchCommander{raw: fixture.Tree}
	eng := engine.New(cmd, lookup, logger, engine.Options{IncludeFloating: includeFloating})

	durations := make([]time.Duration, 0, len(fixture.Events))
	for _, ev := range fixture.Events {
		if respectDelays && ev.Delay > 0 {
			time.Sleep(ev.Delay)
		}
		if !engine.Classify(ev.Event) {
			continue
		}
		reason := ev.Event.Type.String() + " " + ev.Event.Change
		began := time.Now()
		if err := eng.Relabel(ctx, reason); err != nil {
			return nil, 0, fmt.Errorf("relabel after %s: %w", reason, err)
		}
		durations = append(durations, time.Since(began))
	}
	return durations, cmd.Renames(), nil
}

func buildReport(fixture benchFixture, iterations, warmup int, durations []time.Duration, renames int, start, end runtime.MemStats) benchReport {
	latency, total := buildLatencyStats(durations)
	totalEvents := len(fixture.Events) * iterations
	allocs := end.Mallocs - start.Mallocs
	bytes := end.TotalAlloc - start.TotalAlloc

	millis := make([]float64, len(durations))
	for i, d := range durations {
		millis[i] = toMillis(d)
	}
	return benchReport{
		Summary: benchSummary{
			Fixture:            fixture.Name,
			Iterations:         iterations,
			WarmupIterations:   warmup,
			EventsPerIteration: len(fixture.Events),
			TotalEvents:        totalEvents,
			Replans:            len(durations),
			Renames:            renames,
			Latency:            latency,
			Allocations: benchAllocationStats{
				Total:         allocs,
				PerReplan:     safeDivide(float64(allocs), len(durations)),
				BytesTotal:    bytes,
				BytesPerEvent: safeDivide(float64(bytes), totalEvents),
			},
			TotalDurationMs: toMillis(total),
			EventsPerSecond: eventsPerSecond(total, totalEvents),
		},
		DurationsMs: millis,
	}
}

func buildLatencyStats(durations []time.Duration) (benchLatencyStats, time.Duration) {
	stats := benchLatencyStats{}
	if len(durations) == 0 {
		return stats, 0
	}
	total := time.Duration(0)
	for _, d := range durations {
		total += d
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	stats.Min = toMillis(sorted[0])
	stats.Mean = toMillis(total / time.Duration(len(durations)))
	stats.Median = toMillis(percentile(sorted, 0.50))
	stats.P95 = toMillis(percentile(sorted, 0.95))
	stats.Max = toMillis(sorted[len(sorted)-1])
	return stats, total
}

func safeDivide(total float64, count int) float64 {
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func writeReport(report benchReport, outputPath string) error {
	var w io.Writer
	switch strings.TrimSpace(outputPath) {
	case "", "-":
		w = os.Stdout
	default:
		if dir := filepath.Dir(outputPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create report dir: %w", err)
			}
		}
		out, err := os.Create(outputPath)
		if err != nil {
			return err
		}
		defer out.Close()
		w = out
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func printHumanSummary(summary benchSummary, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Fixture:\t%s\n", summary.Fixture)
	fmt.Fprintf(tw, "Iterations:\t%d (+%d warmup)\n", summary.Iterations, summary.WarmupIterations)
	fmt.Fprintf(tw, "Events:\t%d total, %d / iteration\n", summary.TotalEvents, summary.EventsPerIteration)
	fmt.Fprintf(tw, "Replans:\t%d\n", summary.Replans)
	fmt.Fprintf(tw, "Renames:\t%d\n", summary.Renames)
	latency := summary.Latency
	fmt.Fprintf(tw, "Replan latency (ms):\tmin %.3f | mean %.3f | median %.3f | p95 %.3f | max %.3f\n", latency.Min, latency.Mean, latency.Median, latency.P95, latency.Max)
	fmt.Fprintf(tw, "Allocations:\t%d total (%.2f / replan)\n", summary.Allocations.Total, summary.Allocations.PerReplan)
	fmt.Fprintf(tw, "Events/sec:\t%.2f\n", summary.EventsPerSecond)
	return tw.Flush()
}

func eventsPerSecond(total time.Duration, events int) float64 {
	if total <= 0 || events == 0 {
		return 0
	}
	return float64(events) / total.Seconds()
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(p*float64(len(sorted)-1) + 0.5)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// loadFixture reads a JSON fixture or a plain event log. An event log only
// replaces the events of base; its tree and labels are kept.
func loadFixture(path string, base benchFixture) (benchFixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return benchFixture{}, err
	}
	if strings.ToLower(filepath.Ext(path)) == ".json" || looksLikeJSON(data) {
		var payload struct {
			Name   string            `json:"name"`
			Tree   json.RawMessage   `json:"tree"`
			Labels map[string]string `json:"labels"`
			Events []struct {
				Kind   string `json:"kind"`
				Change string `json:"change"`
				Delay  string `json:"delay"`
			} `json:"events"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return benchFixture{}, fmt.Errorf("decode fixture: %w", err)
		}
		fixture := base
		if payload.Name != "" {
			fixture.Name = payload.Name
		} else {
			fixture.Name = filepath.Base(path)
		}
		if len(payload.Tree) > 0 {
			if _, err := tree.Decode(payload.Tree); err != nil {
				return benchFixture{}, err
			}
			fixture.Tree = payload.Tree
		}
		if payload.Labels != nil {
			fixture.Labels = payload.Labels
		}
		fixture.Events = nil
		for i, raw := range payload.Events {
			ev, err := parseEvent(raw.Kind, raw.Change)
			if err != nil {
				return benchFixture{}, fmt.Errorf("event %d: %w", i, err)
			}
			if raw.Delay != "" {
				delay, err := time.ParseDuration(raw.Delay)
				if err != nil {
					return benchFixture{}, fmt.Errorf("event %d delay: %w", i, err)
				}
				ev.Delay = delay
			}
			fixture.Events = append(fixture.Events, ev)
		}
		return fixture, nil
	}

	events, err := parseEventLog(string(data))
	if err != nil {
		return benchFixture{}, err
	}
	fixture := base
	fixture.Name = filepath.Base(path)
	fixture.Events = events
	return fixture, nil
}

func looksLikeJSON(data []byte) bool {
	trimmed := strings.TrimSpace(string(data))
	return strings.HasPrefix(trimmed, "{")
}

// parseEventLog reads one "<kind> <change>" pair per line, as printed by
// i3-msg -t subscribe -m. Blank lines and # comments are skipped.
func parseEventLog(input string) ([]benchEvent, error) {
	var events []benchEvent
	scanner := bufio.NewScanner(strings.NewReader(input))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: want \"<kind> <change>\", got %q", line, text)
		}
		ev, err := parseEvent(fields[0], fields[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	return events, scanner.Err()
}

func parseEvent(kind, change string) (benchEvent, error) {
	var typ ipc.EventType
	switch kind {
	case "window":
		typ = ipc.EventWindow
	case "workspace":
		typ = ipc.EventWorkspace
	default:
		return benchEvent{}, fmt.Errorf("unsupported event kind %q", kind)
	}
	if change == "" {
		return benchEvent{}, fmt.Errorf("%s event without change", kind)
	}
	return benchEvent{Event: ipc.Event{Type: typ, Change: change}}, nil
}

// defaultFixture is a two-output session with a browser, terminals and
// chat spread over six workspaces, and a burst of typical events.
func defaultFixture() benchFixture {
	var nextID int64
	node := func(typ tree.NodeType, name string, children ...*tree.Node) *tree.Node {
		nextID++
		return &tree.Node{ID: nextID, Type: typ, Name: name, Nodes: children}
	}
	window := func(class string) *tree.Node {
		n := node(tree.TypeCon, class)
		n.WindowProperties = &tree.WindowProperties{Class: class}
		return n
	}
	workspace := func(num int, children ...*tree.Node) *tree.Node {
		n := node(tree.TypeWorkspace, fmt.Sprint(num), children...)
		n.Num = &num
		return n
	}
	output := func(name string, workspaces ...*tree.Node) *tree.Node {
		return node(tree.TypeOutput, name, node(tree.TypeCon, "content", workspaces...))
	}

	root := node(tree.TypeRoot, "root",
		output("DP-1",
			workspace(1, window("firefox"), window("Alacritty")),
			workspace(2, node(tree.TypeCon, "", window("Alacritty"), window("Alacritty"), window("Emacs"))),
			workspace(3, window("Slack"), window("discord")),
		),
		output("HDMI-A-1",
			workspace(4, window("Spotify")),
			workspace(5),
			workspace(6, window("firefox"), window("Unknown")),
		),
	)
	raw, err := json.Marshal(root)
	if err != nil {
		panic(err)
	}

	log := `window new
window focus
window title
workspace focus
window move
workspace init
window close
workspace empty
window floating
workspace move
window new
window close`
	events, err := parseEventLog(log)
	if err != nil {
		panic(err)
	}
	return benchFixture{
		Name: "synthetic",
		Tree: raw,
		Labels: map[string]string{
			"firefox":   "web",
			"Alacritty": "term",
			"Emacs":     "edit",
			"Slack":     "chat",
			"discord":   "chat",
			"Spotify":   "music",
		},
		Events: events,
	}
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "bench: %v\n", err)
	os.Exit(1)
}
