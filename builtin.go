package tson

import (
	"context"
	"fmt"
	"math/big"
)

// Built-in tag keys. User entries registered under the same key take
// precedence: registration order is match order and user types register
// first.
const (
	TagPromise       = "Promise"
	TagAsyncIterable = "AsyncIterable"
	TagBigInt        = "bigint"
	TagError         = "Error"
)

func builtinTags(opts Options) []Tag {
	return []Tag{
		&AsyncTag{
			Key:    TagPromise,
			Single: true,
			Test: func(v any) bool {
				_, ok := v.(*Promise)
				return ok
			},
			Drain: func(ctx context.Context, v any, emit func(Event) error) error {
				val, err := v.(*Promise).Await(ctx)
				if err != nil {
					return emit(Event{Code: EventError, Err: err})
				}
				return emit(Event{Code: EventValue, Value: val})
			},
			Materialize: func() (any, Handle) {
				p := newPendingPromise()
				return p, p
			},
		},
		&AsyncTag{
			Key: TagAsyncIterable,
			Test: func(v any) bool {
				_, ok := v.(*Sequence)
				return ok
			},
			Drain: func(ctx context.Context, v any, emit func(Event) error) error {
				return v.(*Sequence).drainInto(ctx, emit)
			},
			Materialize: func() (any, Handle) {
				s := newPendingSequence(opts.SequenceBuffer)
				return s, s
			},
		},
		&SyncTag{
			Key: TagBigInt,
			Test: func(v any) bool {
				_, ok := v.(*big.Int)
				return ok
			},
			Serialize: func(v any) (any, error) {
				return v.(*big.Int).String(), nil
			},
			Deserialize: func(payload any) (any, error) {
				s, ok := payload.(string)
				if !ok {
					return nil, fmt.Errorf("bigint payload is %T, want string", payload)
				}
				n, ok := new(big.Int).SetString(s, 10)
				if !ok {
					return nil, fmt.Errorf("bigint payload %q is not a decimal integer", s)
				}
				return n, nil
			},
		},
		&SyncTag{
			Key: TagError,
			Test: func(v any) bool {
				_, ok := v.(error)
				return ok
			},
			Serialize: func(v any) (any, error) {
				err := v.(error)
				name := "Error"
				if re, ok := err.(*RemoteError); ok && re.Name != "" {
					name = re.Name
				}
				return map[string]any{"name": name, "message": err.Error()}, nil
			},
			Deserialize: func(payload any) (any, error) {
				fields, ok := payload.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("error payload is %T, want object", payload)
				}
				re := &RemoteError{Name: "Error"}
				if name, ok := fields["name"].(string); ok && name != "" {
					re.Name = name
				}
				if msg, ok := fields["message"].(string); ok {
					re.Message = msg
				}
				return re, nil
			},
		},
	}
}

// drainInto feeds the producer side of a sequence. A sequence constructed
// locally runs its generator; a sequence received from a parse session
// proxies its own handle, so reconstructed graphs re-serialize.
func (s *Sequence) drainInto(ctx context.Context, emit func(Event) error) error {
	if s.run != nil {
		err := s.run(ctx, func(v any) error {
			return emit(Event{Code: EventValue, Value: v})
		})
		if err != nil {
			return emit(Event{Code: EventError, Err: err})
		}
		return emit(Event{Code: EventDone})
	}
	for {
		v, ok, err := s.Next(ctx)
		if err != nil {
			return emit(Event{Code: EventError, Err: err})
		}
		if !ok {
			return emit(Event{Code: EventDone})
		}
		if err := emit(Event{Code: EventValue, Value: v}); err != nil {
			return err
		}
	}
}
