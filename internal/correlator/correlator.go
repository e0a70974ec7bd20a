// Package correlator implements the Pending-Response Correlator (§4.C): it
// matches asynchronous reply frames back to the request that triggered
// them, and enforces a per-call timeout so no caller waits forever.
package correlator

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tabbroker/tabbroker/internal/wsproto"
)

// Outcome classifies how a pending request resolved. The correlator never
// rejects a waiter with an exception — it always resolves with one of
// these, so callers stay simple.
type Outcome int

const (
	OutcomeReply Outcome = iota
	OutcomeTimeout
	OutcomeTransportError
)

// Result is delivered exactly once to a waiter.
type Result struct {
	Outcome Outcome
	Reply   *wsproto.Reply
	Err     error
}

// Waiter is handed back from Issue; the caller blocks on C until a result
// arrives: a reply, a timeout, or an abort.
type Waiter struct {
	C <-chan Result
}

type pending struct {
	ch    chan Result
	timer *time.Timer
	once  sync.Once
}

// Correlator tracks in-flight request/reply pairs keyed by correlationId.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*pending
}

// New creates an empty Correlator.
func New() *Correlator {
	return &Correlator{pending: make(map[string]*pending)}
}

// Issue registers a new waiter and arms a timeout timer. The returned
// correlationId is globally unique across all in-flight requests.
func (c *Correlator) Issue(timeout time.Duration) (string, *Waiter) {
	id := uuid.NewString()
	ch := make(chan Result, 1)
	p := &pending{ch: ch}

	c.mu.Lock()
	c.pending[id] = p
	c.mu.Unlock()

	p.timer = time.AfterFunc(timeout, func() {
		c.Expire(id)
	})

	return id, &Waiter{C: ch}
}

// Deliver wakes the waiter for correlationId with a successful reply and
// cancels its timer. No-op if the id is unknown (already resolved or
// expired).
func (c *Correlator) Deliver(correlationID string, reply *wsproto.Reply) {
	p := c.takePending(correlationID)
	if p == nil {
		return
	}
	p.timer.Stop()
	p.resolve(Result{Outcome: OutcomeReply, Reply: reply})
}

// Expire removes the waiter for correlationId and resolves it with a
// timeout outcome. No-op if already resolved.
func (c *Correlator) Expire(correlationID string) {
	p := c.takePending(correlationID)
	if p == nil {
		return
	}
	p.resolve(Result{Outcome: OutcomeTimeout})
}

// Abort resolves the waiter for correlationId with a transport-error
// outcome, used when the target peer disconnects before replying.
func (c *Correlator) Abort(correlationID string, err error) {
	p := c.takePending(correlationID)
	if p == nil {
		return
	}
	p.timer.Stop()
	p.resolve(Result{Outcome: OutcomeTransportError, Err: err})
}

// Pending reports whether a correlationId is still awaiting a reply. Used
// by tests to assert no waiter leaks past timeout.
func (c *Correlator) Pending(correlationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[correlationID]
	return ok
}

// Count returns the number of in-flight requests, for diagnostics/tests.
func (c *Correlator) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) takePending(correlationID string) *pending {
	c.mu.Lock()
	p, ok := c.pending[correlationID]
	if ok {
		delete(c.pending, correlationID)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return p
}

func (p *pending) resolve(r Result) {
	p.once.Do(func() {
		p.ch <- r
		close(p.ch)
	})
}
