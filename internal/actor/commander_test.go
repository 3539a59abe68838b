package actor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wslabel/wslabel/internal/ipc"
	"github.com/wslabel/wslabel/internal/tree"
	"github.com/wslabel/wslabel/internal/util"
)

type fakeBackend struct {
	mu    sync.Mutex
	calls []string

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	// release, when set, blocks every call until it is closed.
	release chan struct{}
	started chan string
	// fail returns the error for a call, if any.
	fail func(call string) error
	// honorContext makes calls block until their context ends.
	honorContext bool
}

func (f *fakeBackend) enter(ctx context.Context, call string) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.maxInFlight.Load()
		if n <= peak || f.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- call
	}
	if f.honorContext {
		<-ctx.Done()
		return &ipc.IOError{Op: call, Err: ctx.Err()}
	}
	if f.release != nil {
		<-f.release
	}
	time.Sleep(time.Millisecond)
	if f.fail != nil {
		return f.fail(call)
	}
	return nil
}

func (f *fakeBackend) GetTree(ctx context.Context) (*tree.Node, error) {
	if err := f.enter(ctx, "get_tree"); err != nil {
		return nil, err
	}
	return &tree.Node{Type: tree.TypeRoot}, nil
}

func (f *fakeBackend) RunCommand(ctx context.Context, command string) ([]ipc.CommandOutcome, error) {
	if err := f.enter(ctx, command); err != nil {
		return nil, err
	}
	return []ipc.CommandOutcome{{Success: true}}, nil
}

func (f *fakeBackend) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func quietLogger() *util.Logger {
	return util.NewLoggerWithWriter(util.LevelError, io.Discard)
}

func startCommander(t *testing.T, backend Backend, opts Options) (*Commander, <-chan error) {
	t.Helper()
	c := New(backend, quietLogger(), opts)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	errs := make(chan error, 1)
	go func() {
		errs <- c.Run(ctx)
	}()
	return c, errs
}

func TestExecuteRunsInSubmissionOrder(t *testing.T) {
	backend := &fakeBackend{release: make(chan struct{}), started: make(chan string, 32)}
	c, _ := startCommander(t, backend, Options{})

	var wg sync.WaitGroup
	submit := func(cmd string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Execute(context.Background(), cmd)
			assert.NoError(t, err)
		}()
	}

	submit("cmd-0")
	require.Equal(t, "cmd-0", <-backend.started)

	want := []string{"cmd-0"}
	for i := 1; i < 10; i++ {
		cmd := fmt.Sprintf("cmd-%d", i)
		submit(cmd)
		want = append(want, cmd)
		queued := i
		require.Eventually(t, func() bool { return c.Pending() == queued }, time.Second, time.Millisecond)
	}
	close(backend.release)
	wg.Wait()

	assert.Equal(t, want, backend.recorded())
	assert.Equal(t, int32(1), backend.maxInFlight.Load())
	assert.Equal(t, uint64(10), c.Processed())
}

func TestConcurrentSubmissionsNeverOverlap(t *testing.T) {
	backend := &fakeBackend{}
	c, _ := startCommander(t, backend, Options{QueueSize: 4})

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := c.FetchTree(context.Background())
				assert.NoError(t, err)
				return
			}
			_, err := c.Execute(context.Background(), fmt.Sprintf("cmd-%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, backend.recorded(), 40)
	assert.Equal(t, int32(1), backend.maxInFlight.Load())
}

func TestConnectionFaultStopsActor(t *testing.T) {
	fault := &ipc.IOError{Op: "run_command", Err: io.EOF}
	backend := &fakeBackend{
		release: make(chan struct{}),
		started: make(chan string, 4),
		fail: func(call string) error {
			if call == "first" {
				return fault
			}
			return nil
		},
	}
	c, errs := startCommander(t, backend, Options{})

	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Execute(context.Background(), "first")
		firstErr <- err
	}()
	require.Equal(t, "first", <-backend.started)

	queuedErr := make(chan error, 1)
	go func() {
		_, err := c.FetchTree(context.Background())
		queuedErr <- err
	}()
	require.Eventually(t, func() bool { return c.Pending() == 1 }, time.Second, time.Millisecond)
	close(backend.release)

	require.ErrorIs(t, <-firstErr, fault)
	require.ErrorIs(t, <-queuedErr, fault)
	require.ErrorIs(t, <-errs, fault)
	assert.Equal(t, StateStopped, c.State())

	_, err := c.Execute(context.Background(), "late")
	assert.ErrorIs(t, err, fault)
	assert.Equal(t, []string{"first"}, backend.recorded())
}

func TestProtocolErrorKeepsActorRunning(t *testing.T) {
	backend := &fakeBackend{
		fail: func(call string) error {
			if call == "bad" {
				return &ipc.ProtocolError{Op: "run_command", Err: errors.New("bad reply")}
			}
			return nil
		},
	}
	c, _ := startCommander(t, backend, Options{})

	_, err := c.Execute(context.Background(), "bad")
	var protoErr *ipc.ProtocolError
	require.ErrorAs(t, err, &protoErr)

	outcomes, err := c.Execute(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, []ipc.CommandOutcome{{Success: true}}, outcomes)
	assert.NotEqual(t, StateStopped, c.State())
	assert.NoError(t, c.Err())
}

func TestCloseServesQueuedThenStops(t *testing.T) {
	backend := &fakeBackend{release: make(chan struct{}), started: make(chan string, 4)}
	c, errs := startCommander(t, backend, Options{})

	results := make(chan error, 2)
	go func() {
		_, err := c.Execute(context.Background(), "a")
		results <- err
	}()
	require.Equal(t, "a", <-backend.started)
	go func() {
		_, err := c.Execute(context.Background(), "b")
		results <- err
	}()
	require.Eventually(t, func() bool { return c.Pending() == 1 }, time.Second, time.Millisecond)

	c.Close()
	_, err := c.Execute(context.Background(), "rejected")
	require.ErrorIs(t, err, ErrClosed)

	close(backend.release)
	require.NoError(t, <-results)
	require.NoError(t, <-results)
	require.NoError(t, <-errs)
	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, []string{"a", "b"}, backend.recorded())

	_, err = c.FetchTree(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTimeoutInFlightIsConnectionFault(t *testing.T) {
	backend := &fakeBackend{honorContext: true}
	c, errs := startCommander(t, backend, Options{Timeout: 30 * time.Millisecond})

	_, err := c.FetchTree(context.Background())
	require.True(t, ipc.IsConnectionFault(err), "expected connection fault, got %v", err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	var ioErr *ipc.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "timeout", ioErr.Op)
	require.Error(t, <-errs)
	assert.Equal(t, StateStopped, c.State())
}

func TestQueuedTimeoutFaultsCallerButNotActor(t *testing.T) {
	backend := &fakeBackend{release: make(chan struct{}), started: make(chan string, 4)}
	c, _ := startCommander(t, backend, Options{})

	first := make(chan error, 1)
	go func() {
		_, err := c.Execute(context.Background(), "first")
		first <- err
	}()
	require.Equal(t, "first", <-backend.started)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Execute(ctx, "expired")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	var ioErr *ipc.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "timeout", ioErr.Op)
	assert.NoError(t, c.Err())
	assert.Equal(t, StateInFlight, c.State())

	close(backend.release)
	require.NoError(t, <-first)

	_, err = c.Execute(context.Background(), "after")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "after"}, backend.recorded())
}

func TestRunCancelledFailsSubmissions(t *testing.T) {
	c := New(&fakeBackend{}, quietLogger(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		errs <- c.Run(ctx)
	}()
	cancel()
	require.ErrorIs(t, <-errs, context.Canceled)

	_, err := c.FetchTree(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Error(t, c.Run(context.Background()))
}
