package control

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/wslabel/wslabel/internal/engine"
	"github.com/wslabel/wslabel/internal/metrics"
)

const (
	// SocketFileName is the filename of the control socket within the runtime dir.
	SocketFileName = "control.sock"

	// Action names supported by the control protocol.
	ActionStatus  = "status"
	ActionPlan    = "plan"
	ActionRelabel = "relabel"
	ActionLabels  = "labels"

	// Response statuses.
	StatusOK    = "ok"
	StatusError = "error"
)

// Request represents a control API request.
type Request struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// Response represents a control API response.
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// Status summarizes the running daemon.
type Status struct {
	ActorState string           `json:"actorState"`
	DryRun     bool             `json:"dryRun,omitempty"`
	LookupSize int              `json:"lookupSize"`
	Metrics    metrics.Snapshot `json:"metrics"`
	LastPlan   *engine.Plan     `json:"lastPlan,omitempty"`
}

// PlanDirective is one rename the daemon would issue.
type PlanDirective struct {
	Num     int    `json:"num"`
	From    string `json:"from"`
	To      string `json:"to"`
	Command string `json:"command"`
}

// PlanResult captures the renames computed for the current tree.
type PlanResult struct {
	Directives []PlanDirective `json:"directives"`
}

// RelabelResult reports the plan applied by a manual relabel.
type RelabelResult struct {
	Plan *engine.Plan `json:"plan,omitempty"`
}

// Labels is the window class lookup table loaded at startup.
type Labels struct {
	Entries map[string]string `json:"entries"`
}

// DefaultSocketPath returns the expected location of the wslabel control socket.
func DefaultSocketPath() (string, error) {
	if env := os.Getenv("WSLABEL_CONTROL_SOCKET"); env != "" {
		return env, nil
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	base := runtimeDir
	if base == "" {
		base = os.TempDir()
		if base == "" {
			return "", errors.New("no runtime directory available")
		}
	}
	return filepath.Join(base, "wslabel", SocketFileName), nil
}
