package quorum

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"dynamo/internal/metrics"
)

var (
	ErrTimeout      = errors.New("quorum: timed out")
	ErrDuplicateTxn = errors.New("quorum: duplicate transaction id")
)

// ReadValue represents a value read from a replica.
type ReadValue struct {
	Value   string
	Version int64
}

// Reply is one replica's answer to a request.
type Reply struct {
	From    string
	Success bool
	// Value is set by replicas answering a read.
	Value *ReadValue
	// Values is set by a node answering a forwarded read.
	Values []ReadValue
}

// WriteResult represents the result of a quorum write operation.
type WriteResult struct {
	Success      bool
	Acks         int
	Required     int
	Replicas     int
	TimedOut     bool
	ErrorMessage string
}

// ReadResult represents the result of a quorum read operation.
type ReadResult struct {
	Success      bool
	Responses    int
	Required     int
	Replicas     int
	Values       []ReadValue
	TimedOut     bool
	ErrorMessage string
}

type pending interface {
	deliver(Reply)
}

// Tracker maps transaction ids to rounds awaiting replies.
type Tracker struct {
	mu      sync.Mutex
	pending map[string]pending
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{pending: make(map[string]pending)}
}

// Deliver hands a reply to the round registered under id. It returns false
// when no round is waiting, e.g. for replies that arrive after a timeout.
func (t *Tracker) Deliver(id string, r Reply) bool {
	t.mu.Lock()
	p, ok := t.pending[id]
	t.mu.Unlock()

	if !ok {
		metrics.LateReplies.Inc()
		return false
	}
	p.deliver(r)
	return true
}

// Pending returns the number of open rounds.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Tracker) register(id string, p pending) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.pending[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTxn, id)
	}
	t.pending[id] = p
	return nil
}

func (t *Tracker) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, id)
}

// counter is the state shared by write and read rounds.
type counter struct {
	mu        sync.Mutex
	replicas  int
	required  int
	receives  int
	successes int
	values    []ReadValue
	done      chan struct{}
	closed    bool
}

func newCounter(replicas, required int) *counter {
	c := &counter{
		replicas: replicas,
		required: required,
		done:     make(chan struct{}),
	}
	c.mu.Lock()
	c.checkLocked()
	c.mu.Unlock()
	return c
}

func (c *counter) deliver(r Reply) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.receives++
	if r.Success {
		c.successes++
		if r.Value != nil {
			c.values = append(c.values, *r.Value)
		}
	}
	c.checkLocked()
}

func (c *counter) checkLocked() {
	if c.closed {
		return
	}
	if c.successes >= c.required || c.receives >= c.replicas {
		c.closed = true
		close(c.done)
	}
}

// wait blocks until the round completes or ctx ends and reports whether it
// timed out.
func (c *counter) wait(ctx context.Context) (timedOut bool) {
	select {
	case <-c.done:
		return false
	case <-ctx.Done():
		c.mu.Lock()
		defer c.mu.Unlock()
		// Completion may have raced with the deadline.
		if c.closed {
			return false
		}
		c.closed = true
		return true
	}
}

// WriteRound collects acknowledgements for a write, update or delete.
type WriteRound struct {
	id      string
	tracker *Tracker
	*counter
}

// StartWrite registers a write round that succeeds once required of the
// replicas contacted acknowledge success. required <= 0 succeeds at once.
func (t *Tracker) StartWrite(id string, replicas, required int) (*WriteRound, error) {
	w := &WriteRound{id: id, tracker: t, counter: newCounter(replicas, required)}
	if err := t.register(id, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Wait blocks until the round completes or ctx ends.
func (w *WriteRound) Wait(ctx context.Context) WriteResult {
	defer w.tracker.remove(w.id)
	timedOut := w.wait(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()

	result := WriteResult{
		Success:  !timedOut && w.successes >= w.required,
		Acks:     w.successes,
		Required: w.required,
		Replicas: w.replicas,
		TimedOut: timedOut,
	}
	switch {
	case timedOut:
		result.ErrorMessage = fmt.Sprintf("%v: acks=%d required=%d replicas=%d", ErrTimeout, w.successes, w.required, w.replicas)
	case !result.Success:
		result.ErrorMessage = fmt.Sprintf("quorum not met: acks=%d required=%d replicas=%d", w.successes, w.required, w.replicas)
	}
	metrics.RecordQuorum("write", result.Success, timedOut)
	return result
}

// ReadRound collects replica values for a read.
type ReadRound struct {
	id      string
	tracker *Tracker
	*counter
}

// StartRead registers a read round. A reply counts as a success only when
// it carries a value.
func (t *Tracker) StartRead(id string, replicas, required int) (*ReadRound, error) {
	r := &ReadRound{id: id, tracker: t, counter: newCounter(replicas, required)}
	if err := t.register(id, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *ReadRound) deliver(rep Reply) {
	if rep.Value == nil || rep.Value.Value == "" {
		rep.Success = false
	}
	r.counter.deliver(rep)
}

// Wait blocks until the round completes or ctx ends. Values collected
// before a timeout are still returned.
func (r *ReadRound) Wait(ctx context.Context) ReadResult {
	defer r.tracker.remove(r.id)
	timedOut := r.wait(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	result := ReadResult{
		Success:   !timedOut && r.successes >= r.required,
		Responses: r.receives,
		Required:  r.required,
		Replicas:  r.replicas,
		Values:    append([]ReadValue(nil), r.values...),
		TimedOut:  timedOut,
	}
	switch {
	case timedOut:
		result.ErrorMessage = fmt.Sprintf("%v: values=%d required=%d replicas=%d", ErrTimeout, r.successes, r.required, r.replicas)
	case !result.Success:
		result.ErrorMessage = fmt.Sprintf("quorum not met: values=%d required=%d replicas=%d", r.successes, r.required, r.replicas)
	}
	metrics.RecordQuorum("read", result.Success, timedOut)
	return result
}

// ForwardRound waits for the single answer to a forwarded request.
type ForwardRound struct {
	id      string
	tracker *Tracker
	reply   chan Reply
}

// StartForward registers a round completed by the first reply.
func (t *Tracker) StartForward(id string) (*ForwardRound, error) {
	f := &ForwardRound{id: id, tracker: t, reply: make(chan Reply, 1)}
	if err := t.register(id, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *ForwardRound) deliver(r Reply) {
	select {
	case f.reply <- r:
	default:
	}
}

// Wait returns the first reply, or ErrTimeout when ctx ends first.
func (f *ForwardRound) Wait(ctx context.Context) (Reply, error) {
	defer f.tracker.remove(f.id)

	select {
	case r := <-f.reply:
		metrics.RecordQuorum("forward", r.Success, false)
		return r, nil
	case <-ctx.Done():
		metrics.RecordQuorum("forward", false, true)
		return Reply{}, fmt.Errorf("%w: forward %s: %v", ErrTimeout, f.id, ctx.Err())
	}
}
