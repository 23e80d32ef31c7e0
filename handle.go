package tson

import (
	"context"
	"sync"
)

// Promise is the single-shot producer/handle pair. On the producer side it
// is constructed with NewPromise, Resolved, or Rejected and drained by the
// multiplexer; on the consumer side it materializes in the reconstructed
// tree and settles when the fulfillment or rejection row arrives.
type Promise struct {
	mu      sync.Mutex
	settled bool
	done    chan struct{}
	val     any
	err     error

	start sync.Once
	fn    func(ctx context.Context) (any, error)
}

// NewPromise wraps fn as a single-shot producer. fn starts on the first
// Await, which is also how the multiplexer drains it.
func NewPromise(fn func(ctx context.Context) (any, error)) *Promise {
	return &Promise{done: make(chan struct{}), fn: fn}
}

// Resolved returns an already-fulfilled promise.
func Resolved(v any) *Promise {
	p := newPendingPromise()
	p.settle(v, nil)
	return p
}

// Rejected returns an already-rejected promise.
func Rejected(err error) *Promise {
	p := newPendingPromise()
	p.settle(nil, err)
	return p
}

func newPendingPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// settle moves the promise to its terminal state exactly once.
func (p *Promise) settle(val any, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settled {
		return false
	}
	p.settled = true
	p.val = val
	p.err = err
	close(p.done)
	return true
}

// Await blocks until the promise settles or ctx is cancelled.
func (p *Promise) Await(ctx context.Context) (any, error) {
	if p.fn != nil {
		p.start.Do(func() {
			go func() {
				p.settle(p.fn(ctx))
			}()
		})
	}
	select {
	case <-p.done:
		return p.val, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Deliver settles a pending consumer-side promise.
func (p *Promise) Deliver(ev Event) error {
	switch ev.Code {
	case EventValue:
		if !p.settle(ev.Value, nil) {
			return protocolErrorf("event after promise settled")
		}
	case EventError:
		if !p.settle(nil, ev.Err) {
			return protocolErrorf("event after promise settled")
		}
	default:
		return protocolErrorf("done event on single-shot producer")
	}
	return nil
}

// Interrupt rejects a still-pending promise. Settled promises ignore it.
func (p *Promise) Interrupt(err error) {
	p.settle(nil, err)
}

// Sequence is the multi-shot producer/handle pair. On the producer side it
// is constructed with NewSequence or SequenceOf; on the consumer side it
// materializes in the reconstructed tree and yields values as rows arrive.
// Arrival is decoupled from consumption by a bounded queue; when the queue
// is full the dispatcher pump blocks, which bounds memory by parser flow.
type Sequence struct {
	items  chan Event
	closed bool // terminal event delivered; dispatcher goroutine only

	termErr error // set before items closes on an error end

	intr    chan struct{}
	intrrd  sync.Once
	intrErr error

	run func(ctx context.Context, yield func(any) error) error
}

// NewSequence wraps run as a multi-shot producer. run receives a yield
// function that emits one value per call; returning nil ends the sequence
// normally, returning an error ends it with that error delivered to the
// consumer.
func NewSequence(run func(ctx context.Context, yield func(any) error) error) *Sequence {
	return &Sequence{intr: make(chan struct{}), run: run}
}

// SequenceOf returns a producer-side sequence yielding the given values.
func SequenceOf(values ...any) *Sequence {
	return NewSequence(func(ctx context.Context, yield func(any) error) error {
		for _, v := range values {
			if err := yield(v); err != nil {
				return err
			}
		}
		return nil
	})
}

func newPendingSequence(buffer int) *Sequence {
	return &Sequence{
		items: make(chan Event, buffer),
		intr:  make(chan struct{}),
	}
}

// Next blocks for the next value. ok is false once the sequence ended: with
// a nil error for a normal end, the producer's error for an error end, or
// ErrStreamInterrupted when the stream died first. Values queued before an
// interruption drain before the interruption is observed.
func (s *Sequence) Next(ctx context.Context) (v any, ok bool, err error) {
	select {
	case ev, open := <-s.items:
		return s.consume(ev, open)
	default:
	}
	select {
	case ev, open := <-s.items:
		return s.consume(ev, open)
	case <-s.intr:
		select {
		case ev, open := <-s.items:
			return s.consume(ev, open)
		default:
		}
		return nil, false, s.intrErr
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (s *Sequence) consume(ev Event, open bool) (any, bool, error) {
	if !open {
		return nil, false, s.termErr
	}
	return ev.Value, true, nil
}

// Deliver routes one event into the queue. Called by the dispatcher only,
// from its single pump goroutine.
func (s *Sequence) Deliver(ev Event) error {
	if s.closed {
		return protocolErrorf("event after sequence end")
	}
	switch ev.Code {
	case EventValue:
		select {
		case s.items <- ev:
		default:
			select {
			case s.items <- ev:
			case <-s.intr:
				// Interrupted with a full queue and no consumer: drop
				// rather than wedge the pump.
			}
		}
	case EventError:
		s.termErr = ev.Err
		s.closed = true
		close(s.items)
	case EventDone:
		s.closed = true
		close(s.items)
	}
	return nil
}

// Interrupt marks the sequence as interrupted. Queued values still drain;
// the next read past them observes err. Ended sequences ignore it.
func (s *Sequence) Interrupt(err error) {
	s.intrrd.Do(func() {
		s.intrErr = err
		close(s.intr)
	})
}
