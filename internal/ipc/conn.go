package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/wslabel/wslabel/internal/tree"
)

// CommandOutcome is the result of one command inside a RUN_COMMAND request.
// Rejected commands surface here rather than as errors.
type CommandOutcome struct {
	Success    bool   `json:"success"`
	ParseError bool   `json:"parse_error,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Version describes the window manager build.
type Version struct {
	Major            int    `json:"major"`
	Minor            int    `json:"minor"`
	Patch            int    `json:"patch"`
	HumanReadable    string `json:"human_readable"`
	LoadedConfigFile string `json:"loaded_config_file_name"`
}

// Conn is a request/reply connection to the window manager. It is not safe
// for concurrent use; a single owner must serialize calls.
type Conn struct {
	conn net.Conn
	path string
}

// Dial connects to the window manager socket at path.
func Dial(ctx context.Context, path string) (*Conn, error) {
	conn, err := dial(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: conn, path: path}, nil
}

func dial(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("%w at %s: %v", ErrConnect, path, err)
	}
	return conn, nil
}

// Path returns the socket path the connection was dialed with.
func (c *Conn) Path() string {
	return c.path
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RunCommand executes a command string and returns one outcome per command.
func (c *Conn) RunCommand(ctx context.Context, command string) ([]CommandOutcome, error) {
	payload, err := c.roundTrip(ctx, MessageRunCommand, []byte(command))
	if err != nil {
		return nil, err
	}
	var outcomes []CommandOutcome
	if err := json.Unmarshal(payload, &outcomes); err != nil {
		return nil, &ProtocolError{Op: MessageRunCommand.String(), Err: err}
	}
	return outcomes, nil
}

// GetTree fetches a fresh layout tree snapshot.
func (c *Conn) GetTree(ctx context.Context) (*tree.Node, error) {
	payload, err := c.roundTrip(ctx, MessageGetTree, nil)
	if err != nil {
		return nil, err
	}
	root, err := tree.Decode(payload)
	if err != nil {
		return nil, &ProtocolError{Op: MessageGetTree.String(), Err: err}
	}
	return root, nil
}

// GetVersion returns the window manager version.
func (c *Conn) GetVersion(ctx context.Context) (Version, error) {
	payload, err := c.roundTrip(ctx, MessageGetVersion, nil)
	if err != nil {
		return Version{}, err
	}
	var v Version
	if err := json.Unmarshal(payload, &v); err != nil {
		return Version{}, &ProtocolError{Op: MessageGetVersion.String(), Err: err}
	}
	return v, nil
}

func (c *Conn) roundTrip(ctx context.Context, typ MessageType, payload []byte) ([]byte, error) {
	op := typ.String()
	stop := bindDeadline(ctx, c.conn)
	defer stop()

	if err := writeMessage(c.conn, uint32(typ), payload); err != nil {
		return nil, transportError(ctx, op, err)
	}
	replyType, reply, err := readMessage(c.conn)
	if err != nil {
		return nil, transportError(ctx, op, err)
	}
	if replyType != uint32(typ) {
		return nil, &IOError{Op: op, Err: fmt.Errorf("reply type %d does not match request", replyType)}
	}
	return reply, nil
}

// bindDeadline applies the context deadline to conn and interrupts blocked
// I/O when ctx is cancelled.
func bindDeadline(ctx context.Context, conn net.Conn) (stop func()) {
	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)
	if ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SetDeadline(time.Unix(1, 0))
		case <-done:
		}
	}()
	return func() { close(done) }
}

func transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &IOError{Op: op, Err: ctxErr}
	}
	// The socket deadline can fire just before the context timer does.
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return &IOError{Op: op, Err: context.DeadlineExceeded}
	}
	return &IOError{Op: op, Err: err}
}
