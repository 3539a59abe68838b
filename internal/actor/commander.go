package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wslabel/wslabel/internal/ipc"
	"github.com/wslabel/wslabel/internal/tree"
	"github.com/wslabel/wslabel/internal/util"
)

// ErrClosed is returned for submissions after the actor stopped accepting work.
var ErrClosed = errors.New("command actor closed")

const defaultQueueSize = 64

// Backend is the mutating window manager connection owned by the actor.
type Backend interface {
	GetTree(ctx context.Context) (*tree.Node, error)
	RunCommand(ctx context.Context, command string) ([]ipc.CommandOutcome, error)
}

// State describes the processing loop.
type State int32

const (
	StateIdle State = iota
	StateInFlight
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInFlight:
		return "in-flight"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options tunes a Commander.
type Options struct {
	// Timeout bounds each submission, queue wait included. Zero disables it.
	Timeout   time.Duration
	QueueSize int
}

// Commander serializes every GetTree and RunCommand call onto one backend
// connection in arrival order.
type Commander struct {
	backend Backend
	logger  *util.Logger
	timeout time.Duration

	queue chan *request
	done  chan struct{}

	// mu guards closing the queue against concurrent sends.
	mu     sync.RWMutex
	closed bool

	faultMu sync.Mutex
	fault   error

	state     atomic.Int32
	running   atomic.Bool
	processed atomic.Uint64
}

// New returns a commander that owns backend. Run must be started for
// submissions to make progress.
func New(backend Backend, logger *util.Logger, opts Options) *Commander {
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Commander{
		backend: backend,
		logger:  logger,
		timeout: opts.Timeout,
		queue:   make(chan *request, size),
		done:    make(chan struct{}),
	}
}

// Run services queued requests one at a time until the queue is closed,
// ctx is cancelled, or the connection fails. A connection fault is
// returned and every pending and future submission fails with it.
func (c *Commander) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("command actor already running")
	}
	c.logger.Debugf("command actor started")
	for {
		select {
		case <-ctx.Done():
			c.stop(fmt.Errorf("%w: %v", ErrClosed, ctx.Err()))
			return ctx.Err()
		case req, ok := <-c.queue:
			if !ok {
				c.stop(ErrClosed)
				c.logger.Debugf("command actor drained after %d requests", c.processed.Load())
				return nil
			}
			if err := c.serve(ctx, req); err != nil {
				c.logger.Errorf("connection fault, stopping: %v", err)
				c.stop(err)
				return err
			}
		}
	}
}

// serve performs one protocol round trip. It returns an error only for
// connection faults.
func (c *Commander) serve(ctx context.Context, req *request) error {
	if !req.claim() {
		c.logger.Tracef("skipping abandoned %s request", req.Type())
		return nil
	}
	c.state.Store(int32(StateInFlight))
	defer c.state.Store(int32(StateIdle))

	callCtx, cancel := context.WithCancel(req.ctx)
	stopAfter := context.AfterFunc(ctx, cancel)
	defer func() {
		stopAfter()
		cancel()
	}()

	c.logger.Tracef("serving %s after %s in queue", req.Type(), time.Since(req.enqueued))
	var resp response
	switch req.kind {
	case kindFetchTree:
		resp.tree, resp.err = c.backend.GetTree(callCtx)
	case kindExecute:
		resp.outcomes, resp.err = c.backend.RunCommand(callCtx, req.command)
	default:
		resp.err = fmt.Errorf("unknown request kind %d", req.kind)
	}
	if resp.err != nil && errors.Is(req.ctx.Err(), context.DeadlineExceeded) {
		resp.err = expired(req.ctx.Err())
	}
	c.processed.Add(1)
	req.reply <- resp

	if resp.err != nil && ipc.IsConnectionFault(resp.err) {
		return resp.err
	}
	if resp.err != nil {
		c.logger.Warnf("%s failed: %v", req.Type(), resp.err)
	}
	return nil
}

// stop records the terminal fault and fails everything still queued.
func (c *Commander) stop(err error) {
	c.faultMu.Lock()
	if c.fault == nil {
		c.fault = err
	}
	fault := c.fault
	c.faultMu.Unlock()
	c.state.Store(int32(StateStopped))
	close(c.done)

	for {
		select {
		case req, ok := <-c.queue:
			if !ok {
				return
			}
			if req.claim() {
				req.reply <- response{err: fault}
			}
		default:
			return
		}
	}
}

// Close stops accepting submissions. Requests already queued are still
// served before Run returns.
func (c *Commander) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.queue)
}

// FetchTree requests a fresh layout tree snapshot.
func (c *Commander) FetchTree(ctx context.Context) (*tree.Node, error) {
	resp, err := c.submit(ctx, kindFetchTree, "")
	if err != nil {
		return nil, err
	}
	return resp.tree, nil
}

// Execute runs a command on the window manager. Rejected commands are
// reported through the outcomes, not the error.
func (c *Commander) Execute(ctx context.Context, command string) ([]ipc.CommandOutcome, error) {
	resp, err := c.submit(ctx, kindExecute, command)
	if err != nil {
		return nil, err
	}
	return resp.outcomes, nil
}

func (c *Commander) submit(ctx context.Context, kind requestKind, command string) (response, error) {
	if err := c.Err(); err != nil {
		return response{}, err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req := newRequest(ctx, kind, command)
	if err := c.enqueue(ctx, req); err != nil {
		return response{}, expired(err)
	}

	select {
	case resp := <-req.reply:
		return resp, resp.err
	case <-c.done:
		return c.afterStop(req)
	case <-ctx.Done():
		if req.abandon() {
			// Never written to the socket, so the actor keeps serving.
			return response{}, expired(ctx.Err())
		}
	}
	// In flight: the backend call shares ctx, so the loop answers shortly.
	select {
	case resp := <-req.reply:
		return resp, resp.err
	case <-c.done:
		return c.afterStop(req)
	}
}

// expired reports a deadline expiry as a timeout fault, the way callers see
// a failed connection.
func expired(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !ipc.IsConnectionFault(err) {
		return &ipc.IOError{Op: "timeout", Err: context.DeadlineExceeded}
	}
	return err
}

func (c *Commander) enqueue(ctx context.Context, req *request) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	req.enqueued = time.Now()
	select {
	case c.queue <- req:
		return nil
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// afterStop resolves a request whose actor stopped while it waited.
func (c *Commander) afterStop(req *request) (response, error) {
	select {
	case resp := <-req.reply:
		return resp, resp.err
	default:
	}
	req.abandon()
	return response{}, c.Err()
}

// Err returns the fault that stopped the actor, or nil while it runs.
func (c *Commander) Err() error {
	c.faultMu.Lock()
	defer c.faultMu.Unlock()
	return c.fault
}

// State reports the loop state.
func (c *Commander) State() State {
	return State(c.state.Load())
}

// Pending returns the number of queued requests.
func (c *Commander) Pending() int {
	return len(c.queue)
}

// Processed returns the number of completed round trips.
func (c *Commander) Processed() uint64 {
	return c.processed.Load()
}
