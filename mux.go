package tson

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/tson/internal/observability"
	"github.com/danmuck/tson/internal/wire"
)

var errEmitAfterTerminal = errors.New("tson: emit after terminal event")

// routedEvent is one producer emission tagged for the drain loop.
type routedEvent struct {
	id    int64
	ev    Event
	last  bool // terminal for its producer
	fault bool // infrastructure fault, surfaced to OnStreamError
}

// muxer drains the set of active producers onto the wire. Events are
// written in arrival order across producers, FIFO within one producer. Only
// the drain loop goroutine touches the encoder, the writer, and the active
// count; producer goroutines reach it through the events channel alone.
type muxer struct {
	s      *Session
	enc    *headEncoder
	w      *wire.Writer
	events chan routedEvent
	active int
	closed map[int64]bool
}

// Encode serializes root onto w and blocks until every producer reachable
// from it has terminated. Fold failures abort before any bytes are written.
// Context cancellation stops all producers and leaves the frame
// syntactically incomplete, which the consumer observes as interruption.
func (s *Session) Encode(ctx context.Context, w io.Writer, root any) error {
	nonce := s.opts.Nonce()
	enc := newHeadEncoder(s, nonce)
	folded, err := enc.fold(root)
	if err != nil {
		return err
	}
	head, err := s.marshalValue(headEnvelope{JSON: folded, Nonce: nonce})
	if err != nil {
		return err
	}
	observability.RecordEncodeSession()

	ww := wire.NewWriter(w)
	if err := ww.WriteHead(head); err != nil {
		return err
	}
	m := &muxer{
		s:      s,
		enc:    enc,
		w:      ww,
		events: make(chan routedEvent),
		closed: make(map[int64]bool),
	}
	return m.drain(ctx, enc.takeDrains())
}

func (m *muxer) drain(ctx context.Context, seeds []drain) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.spawn(ctx, seeds)
	for m.active > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case re := <-m.events:
			if m.closed[re.id] {
				continue
			}
			if re.fault {
				m.s.streamError(re.ev.Err)
			}
			last, err := m.writeRow(re)
			if err != nil {
				cancel()
				return err
			}
			if last {
				m.active--
				m.closed[re.id] = true
			}
			m.spawn(ctx, m.enc.takeDrains())
		}
	}
	return m.w.Close()
}

// writeRow folds the event payload (discovering nested producers) and emits
// the [id, event] row. A payload that cannot fold becomes an error
// terminator for its producer, keeping siblings alive.
func (m *muxer) writeRow(re routedEvent) (last bool, err error) {
	folded, err := m.enc.foldEvent(re.ev)
	if err != nil {
		m.s.streamError(err)
		re.ev = Event{Code: EventError, Err: err}
		re.last = true
		folded, err = m.enc.foldEvent(re.ev)
		if err != nil {
			return false, err
		}
	}
	row, err := m.s.marshalValue([]any{re.id, folded})
	if err != nil {
		return false, err
	}
	observability.RecordRowEmitted()
	return re.last, m.w.WriteRow(row)
}

func (m *muxer) spawn(ctx context.Context, drains []drain) {
	m.active += len(drains)
	for _, d := range drains {
		go m.runProducer(ctx, d)
	}
}

// runProducer executes one drain in its own goroutine. A drain that panics
// or returns an error before its terminal event is a producer fault: it is
// converted to an error terminator so the consumer-side handle still
// terminates, and the fault is surfaced through OnStreamError.
func (m *muxer) runProducer(ctx context.Context, d drain) {
	terminal := false
	emit := func(ev Event) error {
		if terminal {
			return errEmitAfterTerminal
		}
		re := routedEvent{id: d.id, ev: ev, last: ev.Terminal(d.tag.Single)}
		select {
		case m.events <- re:
			terminal = re.last
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	fault := func(err error) {
		re := routedEvent{
			id:    d.id,
			ev:    Event{Code: EventError, Err: err},
			last:  true,
			fault: true,
		}
		select {
		case m.events <- re:
		case <-ctx.Done():
		}
	}

	defer func() {
		if r := recover(); r != nil && !terminal {
			fault(fmt.Errorf("tson: producer %q panicked: %v", d.tag.Key, r))
		}
	}()

	err := d.tag.Drain(ctx, d.val, emit)
	if terminal || ctx.Err() != nil {
		return
	}
	if err == nil {
		err = fmt.Errorf("tson: producer %q ended without terminal event", d.tag.Key)
	}
	fault(err)
}

// streamError reports one producer-side fault or consumer-side interruption
// to the session's callback.
func (s *Session) streamError(err error) {
	observability.RecordStreamFault()
	if s.opts.OnStreamError != nil {
		s.opts.OnStreamError(err)
	}
}
