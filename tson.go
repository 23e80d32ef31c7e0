// Package tson extends JSON with a streaming, asynchronous serialization
// protocol. A producer serializes a root value whose subtree may contain
// live asynchronous producers: single-shot promises and multi-shot
// sequences. The head of the frame carries the folded root with a tagged
// placeholder per producer; tail rows follow as producers emit, multiplexed
// in arrival order. A consumer reconstructs an equivalent graph in which
// each producer appears as a live handle that settles as rows arrive.
//
// Values richer than JSON ride user-registered tags; bigints, typed errors,
// promises, and async sequences are built in.
package tson

import (
	"context"
	"io"

	"github.com/google/uuid"
)

const defaultSequenceBuffer = 32

// Options configures one Session.
type Options struct {
	// Types is the ordered list of user tag entries. They match before the
	// built-in promise/sequence/bigint/error tags.
	Types []Tag

	// Nonce returns a fresh per-serialization marker stamped into the head
	// and echoed by every placeholder. Defaults to a UUID.
	Nonce func() string

	// Guards vet every folded and unfolded tagged value. A failing guard
	// aborts the fold on the producer side and the dispatch on the
	// consumer side with a GuardError.
	Guards []func(any) error

	// OnStreamError observes producer-side faults and consumer-side stream
	// interruptions, once per fault. Rejections and error ends emitted by
	// a producer itself are delivered to their handle instead.
	OnStreamError func(error)

	// Indent, when non-empty, indents the head and row JSON.
	Indent string

	// SequenceBuffer bounds the per-sequence delivery queue on the
	// consumer side.
	SequenceBuffer int
}

// Session binds a tag table and options. Sessions are safe for concurrent
// use; every Encode/Decode call is an independent serialization session
// with its own nonce and id space.
type Session struct {
	opts     Options
	registry *registry
}

func New(opts Options) *Session {
	if opts.Nonce == nil {
		opts.Nonce = uuid.NewString
	}
	if opts.SequenceBuffer <= 0 {
		opts.SequenceBuffer = defaultSequenceBuffer
	}
	tags := make([]Tag, 0, len(opts.Types)+4)
	tags = append(tags, opts.Types...)
	tags = append(tags, builtinTags(opts)...)
	return &Session{opts: opts, registry: newRegistry(tags)}
}

func (s *Session) guard(v any) error {
	for _, g := range s.opts.Guards {
		if err := g(v); err != nil {
			return &GuardError{Value: v, Cause: err}
		}
	}
	return nil
}

// Stringify serializes root as a sequence of UTF-8 chunks of the outer
// frame. The channel closes once the frame completes, the context is
// cancelled, or encoding fails; failures surface through OnStreamError.
func (s *Session) Stringify(ctx context.Context, root any) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		if err := s.Encode(ctx, &chunkWriter{ctx: ctx, out: out}, root); err != nil {
			if ctx.Err() == nil {
				s.streamError(err)
			}
		}
	}()
	return out
}

// Parse reconstructs the root from a sequence of string chunks. Chunk
// boundaries may fall anywhere. The returned root is available as soon as
// the head is parsed; handles inside it settle as later chunks deliver
// rows.
func (s *Session) Parse(ctx context.Context, source <-chan string) (any, error) {
	return s.Decode(ctx, &chunkReader{ctx: ctx, source: source})
}

// chunkWriter adapts the wire writer onto a chunk channel: every Write is
// one chunk.
type chunkWriter struct {
	ctx context.Context
	out chan<- string
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	select {
	case w.out <- string(p):
		return len(p), nil
	case <-w.ctx.Done():
		return 0, w.ctx.Err()
	}
}

// chunkReader adapts a chunk channel onto io.Reader for the scanner.
type chunkReader struct {
	ctx    context.Context
	source <-chan string
	rest   []byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.rest) == 0 {
		select {
		case chunk, ok := <-r.source:
			if !ok {
				return 0, io.EOF
			}
			r.rest = []byte(chunk)
		case <-r.ctx.Done():
			return 0, r.ctx.Err()
		}
	}
	n := copy(p, r.rest)
	r.rest = r.rest[n:]
	return n, nil
}
