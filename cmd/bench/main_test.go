package main

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/wslabel/wslabel/internal/ipc"
	"github.com/wslabel/wslabel/internal/rename"
	"github.com/wslabel/wslabel/internal/util"
)

func quietLogger() *util.Logger {
	return util.NewLoggerWithWriter(util.LevelError, &bytes.Buffer{})
}

func TestPercentile(t *testing.T) {
	cases := []struct {
		name     string
		values   []time.Duration
		p        float64
		expected time.Duration
	}{
		{name: "empty", values: nil, p: 0.5, expected: 0},
		{name: "lower bound", values: []time.Duration{time.Millisecond, 2 * time.Millisecond}, p: -0.1, expected: time.Millisecond},
		{name: "upper bound", values: []time.Duration{time.Millisecond, 2 * time.Millisecond}, p: 1.2, expected: 2 * time.Millisecond},
		{name: "median", values: []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}, p: 0.5, expected: 2 * time.Millisecond},
		{name: "p95", values: []time.Duration{1, 2, 3, 4, 5}, p: 0.95, expected: 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := percentile(tc.values, tc.p); got != tc.expected {
				t.Fatalf("percentile(%s, %f) = %s, want %s", tc.name, tc.p, got, tc.expected)
			}
		})
	}
}

func TestEventsPerSecond(t *testing.T) {
	cases := []struct {
		name     string
		total    time.Duration
		events   int
		expected float64
	}{
		{name: "zero duration", total: 0, events: 10, expected: 0},
		{name: "zero events", total: time.Second, events: 0, expected: 0},
		{name: "positive", total: 10 * time.Millisecond, events: 4, expected: 400},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := eventsPerSecond(tc.total, tc.events)
			if math.Abs(got-tc.expected) > 1e-9 {
				t.Fatalf("eventsPerSecond(%s) = %f, want %f", tc.name, got, tc.expected)
			}
		})
	}
}

func TestReplayDefaultFixture(t *testing.T) {
	fixture := defaultFixture()
	durations, renames, err := replayIteration(context.Background(), fixture, rename.NewLookup(fixture.Labels), false, quietLogger(), false)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	// focus and title events do not trigger a replan.
	if len(durations) != 9 {
		t.Fatalf("expected 9 replans, got %d", len(durations))
	}
	// Workspaces 1-4 and 6 get a label on every replan; 5 is empty.
	if renames != 9*5 {
		t.Fatalf("expected %d renames, got %d", 9*5, renames)
	}
}

func TestParseEventLog(t *testing.T) {
	events, err := parseEventLog("# captured session\nwindow new\n\nworkspace init\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Event.Type != ipc.EventWindow || events[1].Event.Change != "init" {
		t.Fatalf("unexpected events %#v", events)
	}

	for _, bad := range []string{"window\n", "output change\n", "window new extra\n"} {
		if _, err := parseEventLog(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestLoadFixtureJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "single.json")
	payload := `{
  "name": "single",
  "tree": {"id":1,"type":"root","name":"root","nodes":[
    {"id":2,"type":"output","name":"eDP-1","nodes":[
      {"id":3,"type":"con","name":"content","nodes":[
        {"id":4,"type":"workspace","name":"1","num":1,"nodes":[
          {"id":5,"type":"con","name":"x","window_properties":{"class":"Firefox"},"nodes":[]}
        ]}
      ]}
    ]}
  ]},
  "labels": {"Firefox": "web"},
  "events": [
    {"kind": "window", "change": "new", "delay": "5ms"},
    {"kind": "window", "change": "title"}
  ]
}`
	if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	fixture, err := loadFixture(path, defaultFixture())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fixture.Name != "single" || len(fixture.Events) != 2 || fixture.Events[0].Delay != 5*time.Millisecond {
		t.Fatalf("unexpected fixture %#v", fixture)
	}

	durations, renames, err := replayIteration(context.Background(), fixture, rename.NewLookup(fixture.Labels), false, quietLogger(), false)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(durations) != 1 || renames != 1 {
		t.Fatalf("expected one replan with one rename, got %d replans and %d renames", len(durations), renames)
	}
}

func TestLoadFixtureEventLogKeepsBaseTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	if err := os.WriteFile(path, []byte("window new\nwindow close\n"), 0o600); err != nil {
		t.Fatalf("write log: %v", err)
	}
	base := defaultFixture()
	fixture, err := loadFixture(path, base)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fixture.Name != "events.log" || len(fixture.Events) != 2 {
		t.Fatalf("unexpected fixture %#v", fixture)
	}
	if !bytes.Equal(fixture.Tree, base.Tree) {
		t.Fatalf("expected base tree to be kept")
	}
}

func TestBuildReportAndSummary(t *testing.T) {
	fixture := defaultFixture()
	durations := []time.Duration{time.Millisecond, 3 * time.Millisecond}
	var start, end runtime.MemStats
	end.Mallocs = 40
	end.TotalAlloc = 1200

	report := buildReport(fixture, 2, 1, durations, 10, start, end)
	summary := report.Summary
	if summary.TotalEvents != 2*len(fixture.Events) || summary.Replans != 2 || summary.Renames != 10 {
		t.Fatalf("unexpected summary %#v", summary)
	}
	if summary.Latency.Min != 1 || summary.Latency.Max != 3 || summary.Latency.Mean != 2 {
		t.Fatalf("unexpected latency %#v", summary.Latency)
	}
	if summary.Allocations.PerReplan != 20 {
		t.Fatalf("expected 20 allocations per replan, got %f", summary.Allocations.PerReplan)
	}
	if len(report.DurationsMs) != 2 {
		t.Fatalf("expected per-replan durations, got %v", report.DurationsMs)
	}

	var out bytes.Buffer
	if err := printHumanSummary(summary, &out); err != nil {
		t.Fatalf("summary: %v", err)
	}
	for _, want := range []string{"Fixture:", "synthetic", "Replans:", "Renames:"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in summary, got %s", want, out.String())
		}
	}
}
