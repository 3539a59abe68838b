package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/wslabel/wslabel/internal/control"
)

func init() {
	color.NoColor = true
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunCheckOK(t *testing.T) {
	path := writeConfig(t, "windowClass:\n  Firefox: F\n")
	var stdout, stderr bytes.Buffer
	if err := runCheck(path, &stdout, &stderr); err != nil {
		t.Fatalf("runCheck: %v", err)
	}
	if !strings.Contains(stdout.String(), "Configuration OK") {
		t.Fatalf("unexpected stdout %q", stdout.String())
	}
	if stderr.Len() != 0 {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}

func TestRunCheckReportsIssues(t *testing.T) {
	path := writeConfig(t, "windowClass:\n  Firefox: ''\ncommandTimeout: -1s\n")
	var stdout, stderr bytes.Buffer
	err := runCheck(path, &stdout, &stderr)
	if !errors.Is(err, errSilent) {
		t.Fatalf("expected silent failure, got %v", err)
	}
	out := stderr.String()
	if !strings.Contains(out, "Configuration has 2 issue(s)") {
		t.Fatalf("expected issue count, got %q", out)
	}
	if !strings.Contains(out, "- windowClass.Firefox: label cannot be empty") {
		t.Fatalf("expected label issue, got %q", out)
	}
}

func TestRunCheckMissingFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := runCheck(filepath.Join(t.TempDir(), "missing.yaml"), &stdout, &stderr)
	if err == nil || errors.Is(err, errSilent) {
		t.Fatalf("expected read error, got %v", err)
	}
}

// serveOnce answers a single control request with resp.
func serveOnce(t *testing.T, resp control.Response) (string, <-chan control.Request) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "control.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	requests := make(chan control.Request, 1)
	go func() {
		defer ln.Close()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var req control.Request
		if err := json.NewDecoder(conn).Decode(&req); err != nil {
			return
		}
		requests <- req
		_ = json.NewEncoder(conn).Encode(resp)
	}()
	return path, requests
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPlanCommand(t *testing.T) {
	path, requests := serveOnce(t, control.Response{
		Status: control.StatusOK,
		Data: control.PlanResult{Directives: []control.PlanDirective{
			{Num: 1, From: "1", To: "1: F", Command: `rename workspace "1" to "1: F"`},
		}},
	})
	out, err := execute(t, "--socket", path, "plan")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if req := <-requests; req.Action != control.ActionPlan {
		t.Fatalf("unexpected action %q", req.Action)
	}
	if strings.TrimSpace(out) != `rename workspace "1" to "1: F"` {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestLabelsCommandSortsClasses(t *testing.T) {
	path, _ := serveOnce(t, control.Response{
		Status: control.StatusOK,
		Data:   control.Labels{Entries: map[string]string{"Firefox": "F", "Alacritty": "T"}},
	})
	out, err := execute(t, "--socket", path, "labels")
	if err != nil {
		t.Fatalf("labels: %v", err)
	}
	if out != "Alacritty: T\nFirefox: F\n" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestRelabelCommandSendsReason(t *testing.T) {
	path, requests := serveOnce(t, control.Response{Status: control.StatusOK, Data: control.RelabelResult{}})
	out, err := execute(t, "--socket", path, "relabel", "--reason", "manual test")
	if err != nil {
		t.Fatalf("relabel: %v", err)
	}
	req := <-requests
	if req.Params["reason"] != "manual test" {
		t.Fatalf("unexpected params %#v", req.Params)
	}
	if !strings.Contains(out, "up to date") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestStatusCommandJSON(t *testing.T) {
	path, _ := serveOnce(t, control.Response{
		Status: control.StatusOK,
		Data:   control.Status{ActorState: "idle", LookupSize: 3},
	})
	out, err := execute(t, "--socket", path, "--json", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var status control.Status
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if status.ActorState != "idle" || status.LookupSize != 3 {
		t.Fatalf("unexpected status %#v", status)
	}
}

func TestServerErrorIsReturned(t *testing.T) {
	path, _ := serveOnce(t, control.Response{Status: control.StatusError, Error: "relabel: command actor closed"})
	_, err := execute(t, "--socket", path, "relabel")
	if err == nil || err.Error() != "relabel: command actor closed" {
		t.Fatalf("expected server error, got %v", err)
	}
}
