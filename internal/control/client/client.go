package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/wslabel/wslabel/internal/control"
)

const (
	// defaultTimeout is used when the caller does not provide a context deadline.
	defaultTimeout = 3 * time.Second
)

// Client talks to the running wslabel daemon over its control socket.
type Client struct {
	socketPath string
}

type (
	// Status summarizes the running daemon.
	Status = control.Status
	// PlanResult captures the renames the daemon would issue.
	PlanResult = control.PlanResult
	// PlanDirective is one planned rename.
	PlanDirective = control.PlanDirective
	// RelabelResult reports the plan applied by a manual relabel.
	RelabelResult = control.RelabelResult
	// Labels is the daemon's window class lookup table.
	Labels = control.Labels
)

// New creates a client that connects to the provided socket path. When path is
// empty, the default runtime path is used.
func New(path string) (*Client, error) {
	if path == "" {
		var err error
		path, err = control.DefaultSocketPath()
		if err != nil {
			return nil, err
		}
	}
	return &Client{socketPath: path}, nil
}

// SocketPath returns the socket the client dials.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// Status retrieves the daemon's actor state, counters, and last plan.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status
	if err := c.do(ctx, control.Request{Action: control.ActionStatus}, &status); err != nil {
		return Status{}, err
	}
	return status, nil
}

// Plan asks the daemon for the renames it would issue right now.
func (c *Client) Plan(ctx context.Context) (PlanResult, error) {
	var result PlanResult
	if err := c.do(ctx, control.Request{Action: control.ActionPlan}, &result); err != nil {
		return PlanResult{}, err
	}
	return result, nil
}

// Relabel asks the daemon to replan and apply the result immediately.
func (c *Client) Relabel(ctx context.Context, reason string) (RelabelResult, error) {
	req := control.Request{Action: control.ActionRelabel}
	if reason != "" {
		req.Params = map[string]any{"reason": reason}
	}
	var result RelabelResult
	if err := c.do(ctx, req, &result); err != nil {
		return RelabelResult{}, err
	}
	return result, nil
}

// Labels retrieves the window class lookup table.
func (c *Client) Labels(ctx context.Context) (Labels, error) {
	var labels Labels
	if err := c.do(ctx, control.Request{Action: control.ActionLabels}, &labels); err != nil {
		return Labels{}, err
	}
	return labels, nil
}

func (c *Client) do(ctx context.Context, req control.Request, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("dial control socket: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	var resp control.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != control.StatusOK {
		if resp.Error == "" {
			resp.Error = "unknown control error"
		}
		return errors.New(resp.Error)
	}
	if out == nil || resp.Data == nil {
		return nil
	}
	data, err := json.Marshal(resp.Data)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
