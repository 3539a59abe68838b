package actor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/wslabel/wslabel/internal/ipc"
	"github.com/wslabel/wslabel/internal/tree"
)

type requestKind int

const (
	kindFetchTree requestKind = iota
	kindExecute
)

const (
	phaseQueued int32 = iota
	phaseInFlight
	phaseAbandoned
)

// request is one queued protocol call. Its reply channel is buffered so
// the loop never blocks answering it.
type request struct {
	kind     requestKind
	command  string
	ctx      context.Context
	reply    chan response
	enqueued time.Time
	phase    atomic.Int32
}

func newRequest(ctx context.Context, kind requestKind, command string) *request {
	return &request{
		kind:    kind,
		command: command,
		ctx:     ctx,
		reply:   make(chan response, 1),
	}
}

func (r *request) Type() string {
	switch r.kind {
	case kindFetchTree:
		return "FetchTree"
	case kindExecute:
		return "Execute"
	default:
		return "Unknown"
	}
}

// claim moves a queued request in flight; false means its caller gave up.
func (r *request) claim() bool {
	return r.phase.CompareAndSwap(phaseQueued, phaseInFlight)
}

// abandon withdraws a request that has not been dequeued yet.
func (r *request) abandon() bool {
	return r.phase.CompareAndSwap(phaseQueued, phaseAbandoned)
}

type response struct {
	tree     *tree.Node
	outcomes []ipc.CommandOutcome
	err      error
}
