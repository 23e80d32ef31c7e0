package tson

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-json-experiment/json"

	"github.com/danmuck/tson/internal/observability"
	"github.com/danmuck/tson/internal/wire"
)

// dispatcher owns the consumer-side handle table for one parse session. The
// pump goroutine is the only writer of the table after the head unfold; the
// interruption watcher reads it under the same mutex.
type dispatcher struct {
	s     *Session
	nonce any

	mu      sync.Mutex
	handles map[int64]Handle

	failOnce sync.Once
	quit     chan struct{}
}

// Decode reads one tson frame from r. It returns the reconstructed root as
// soon as the head is parsed; async handles inside the root keep settling as
// tail rows arrive on a background pump. Cancelling ctx interrupts every
// open handle at once; the pump does not watch ctx and keeps reading r
// until r returns an error or the frame ends.
func (s *Session) Decode(ctx context.Context, r io.Reader) (any, error) {
	sc := wire.NewScanner(r)
	raw, err := sc.Head()
	if err != nil {
		if errors.Is(err, wire.ErrInterrupted) {
			return nil, fmt.Errorf("%w: %v", ErrStreamInterrupted, err)
		}
		return nil, err
	}
	var env headEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, protocolErrorf("malformed head: %v", err)
	}
	if !scalarNonce(env.Nonce) {
		return nil, protocolErrorf("head nonce is not a scalar")
	}
	observability.RecordDecodeSession()

	d := &dispatcher{
		s:       s,
		nonce:   env.Nonce,
		handles: make(map[int64]Handle),
		quit:    make(chan struct{}),
	}
	root, err := d.unfold(env.JSON)
	if err != nil {
		return nil, err
	}
	go d.pump(sc)
	go d.watch(ctx)
	return root, nil
}

// unfold walks a decoded value, replacing every placeholder carrying the
// session nonce: async tags materialize handles keyed by id, sync tags run
// their deserializer. Arrays that merely look like placeholders but carry a
// different third element are user data and pass through.
func (d *dispatcher) unfold(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			u, err := d.unfold(item)
			if err != nil {
				return nil, err
			}
			out[k] = u
		}
		return out, nil
	case []any:
		if key, mid, ok := d.placeholder(val); ok {
			return d.unfoldTagged(key, mid)
		}
		out := make([]any, len(val))
		for i, item := range val {
			u, err := d.unfold(item)
			if err != nil {
				return nil, err
			}
			out[i] = u
		}
		return out, nil
	default:
		return v, nil
	}
}

func (d *dispatcher) placeholder(arr []any) (key string, mid any, ok bool) {
	if len(arr) != 3 || !scalarNonce(arr[2]) || arr[2] != d.nonce {
		return "", nil, false
	}
	key, isString := arr[0].(string)
	if !isString {
		return "", nil, false
	}
	return key, arr[1], true
}

// scalarNonce limits nonce comparison to JSON scalars so user containers in
// the placeholder position can never panic an interface comparison.
func scalarNonce(v any) bool {
	switch v.(type) {
	case string, float64, bool:
		return true
	default:
		return false
	}
}

func (d *dispatcher) unfoldTagged(key string, mid any) (any, error) {
	tag, err := d.s.registry.matchUnfold(key)
	if err != nil {
		return nil, protocolErrorf("placeholder with unknown tag %q", key)
	}
	switch t := tag.(type) {
	case *SyncTag:
		payload, err := d.unfold(mid)
		if err != nil {
			return nil, err
		}
		out, err := t.Deserialize(payload)
		if err != nil {
			return nil, fmt.Errorf("tson: deserialize %q: %w", t.Key, err)
		}
		if t.Guard != nil {
			if err := t.Guard(out); err != nil {
				return nil, &GuardError{Value: out, Cause: err}
			}
		}
		if err := d.s.guard(out); err != nil {
			return nil, err
		}
		return out, nil
	case *AsyncTag:
		id, ok := wireID(mid)
		if !ok {
			return nil, protocolErrorf("placeholder %q with non-integer id", key)
		}
		val, h := t.Materialize()
		d.mu.Lock()
		_, taken := d.handles[id]
		if !taken {
			d.handles[id] = h
		}
		d.mu.Unlock()
		if taken {
			return nil, protocolErrorf("duplicate producer id %d", id)
		}
		return val, nil
	default:
		return nil, protocolErrorf("placeholder with unknown tag %q", key)
	}
}

// pump routes tail rows until the frame closes or the stream dies. A clean
// close with still-open handles also interrupts them: the wire contract
// promises a terminator per producer, so anything left open cannot settle.
func (d *dispatcher) pump(sc *wire.Scanner) {
	defer close(d.quit)
	for {
		raw, err := sc.Row()
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.interruptAll(ErrStreamInterrupted)
				return
			}
			d.fail(fmt.Errorf("%w: %v", ErrStreamInterrupted, err))
			return
		}
		if err := d.dispatchRow(raw); err != nil {
			d.fail(err)
			return
		}
	}
}

func (d *dispatcher) dispatchRow(raw []byte) error {
	var row []any
	if err := json.Unmarshal(raw, &row); err != nil {
		return protocolErrorf("malformed row: %v", err)
	}
	if len(row) != 2 {
		return protocolErrorf("row with %d elements", len(row))
	}
	id, ok := wireID(row[0])
	if !ok {
		return protocolErrorf("row with non-integer id")
	}
	evArr, ok := row[1].([]any)
	if !ok || len(evArr) < 1 || len(evArr) > 2 {
		return protocolErrorf("malformed event for id %d", id)
	}
	code, ok := wireID(evArr[0])
	if !ok {
		return protocolErrorf("malformed event code for id %d", id)
	}

	ev := Event{Code: EventCode(code)}
	switch ev.Code {
	case EventDone:
		if len(evArr) != 1 {
			return protocolErrorf("done event with payload for id %d", id)
		}
	case EventValue, EventError:
		if len(evArr) != 2 {
			return protocolErrorf("event without payload for id %d", id)
		}
		payload, err := d.unfold(evArr[1])
		if err != nil {
			return err
		}
		if ev.Code == EventError {
			ev.Err = asError(payload)
		} else {
			ev.Value = payload
		}
	default:
		return protocolErrorf("unknown event code %d for id %d", code, id)
	}

	d.mu.Lock()
	h, ok := d.handles[id]
	d.mu.Unlock()
	if !ok {
		return protocolErrorf("row for unknown id %d", id)
	}
	observability.RecordRowDispatched()
	return h.Deliver(ev)
}

// fail tears the whole parse session down: every open handle interrupts and
// the session error callback fires exactly once.
func (d *dispatcher) fail(err error) {
	d.failOnce.Do(func() {
		observability.RecordInterruption()
		d.s.streamError(err)
		d.interruptAll(ErrStreamInterrupted)
	})
}

func (d *dispatcher) interruptAll(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range d.handles {
		h.Interrupt(err)
	}
}

// watch interrupts open handles when the consumer context is cancelled
// before the frame completes.
func (d *dispatcher) watch(ctx context.Context) {
	select {
	case <-d.quit:
	case <-ctx.Done():
		d.interruptAll(ErrStreamInterrupted)
	}
}

// wireID converts a decoded JSON number to the scalar id space.
func wireID(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

// asError shapes a decoded rejection payload as a Go error.
func asError(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return &RemoteError{Name: "Error", Message: fmt.Sprint(v)}
}
