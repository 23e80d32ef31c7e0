package tson

import (
	"fmt"
	"reflect"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// headEnvelope is the first value on the wire: the folded root plus the
// session nonce echoed by every placeholder.
type headEnvelope struct {
	JSON  any `json:"json"`
	Nonce any `json:"nonce"`
}

// drain is one pending producer discovered during a fold: the id it was
// assigned and the tag/value pair the multiplexer will run.
type drain struct {
	id  int64
	tag *AsyncTag
	val any
}

// headEncoder folds value trees into their wire shape. One encoder serves a
// whole serialization session: the id counter spans the head fold and every
// event fold that follows, so nested producers keep first-encounter order.
// All folds run on the multiplexer goroutine; no locking.
type headEncoder struct {
	s      *Session
	nonce  any
	nextID int64
	drains []drain
	onPath map[uintptr]struct{}
}

func newHeadEncoder(s *Session, nonce any) *headEncoder {
	return &headEncoder{s: s, nonce: nonce, onPath: make(map[uintptr]struct{})}
}

// fold rewrites v depth-first: matched entities become placeholders, maps
// and slices are traversed structurally, scalars pass through.
func (e *headEncoder) fold(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if tag, ok := e.s.registry.matchFold(v); ok {
		return e.foldTagged(tag, v)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v, nil
		}
		if err := e.enter(rv.Pointer()); err != nil {
			return nil, err
		}
		defer e.leave(rv.Pointer())
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			folded, err := e.fold(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = folded
		}
		return out, nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return v, nil
		}
		if err := e.enter(rv.Pointer()); err != nil {
			return nil, err
		}
		defer e.leave(rv.Pointer())
		return e.foldList(rv)
	case reflect.Array:
		return e.foldList(rv)
	case reflect.Chan, reflect.Func:
		return nil, &TagError{Key: rv.Type().String(), Op: "fold"}
	default:
		return v, nil
	}
}

func (e *headEncoder) foldList(rv reflect.Value) (any, error) {
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		folded, err := e.fold(rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		out[i] = folded
	}
	return out, nil
}

func (e *headEncoder) foldTagged(tag Tag, v any) (any, error) {
	if err := e.s.guard(v); err != nil {
		return nil, err
	}
	switch t := tag.(type) {
	case *SyncTag:
		if t.Guard != nil {
			if err := t.Guard(v); err != nil {
				return nil, &GuardError{Value: v, Cause: err}
			}
		}
		payload, err := t.Serialize(v)
		if err != nil {
			return nil, fmt.Errorf("tson: serialize %q: %w", t.Key, err)
		}
		folded, err := e.fold(payload)
		if err != nil {
			return nil, err
		}
		return []any{t.Key, folded, e.nonce}, nil
	case *AsyncTag:
		id := e.nextID
		e.nextID++
		e.drains = append(e.drains, drain{id: id, tag: t, val: v})
		return []any{t.Key, id, e.nonce}, nil
	default:
		return nil, &TagError{Key: tag.key(), Op: "fold"}
	}
}

// foldEvent rewrites one producer event for the wire: [code, payload] with
// the payload folded recursively, or [code] for a bare done marker. Error
// events fold the error value itself, so typed errors ride their tag.
func (e *headEncoder) foldEvent(ev Event) (any, error) {
	switch ev.Code {
	case EventDone:
		return []any{int(EventDone)}, nil
	case EventError:
		folded, err := e.fold(ev.Err)
		if err != nil {
			return nil, err
		}
		return []any{int(EventError), folded}, nil
	default:
		folded, err := e.fold(ev.Value)
		if err != nil {
			return nil, err
		}
		return []any{int(EventValue), folded}, nil
	}
}

// takeDrains returns producers discovered since the previous call.
func (e *headEncoder) takeDrains() []drain {
	out := e.drains
	e.drains = nil
	return out
}

func (e *headEncoder) enter(ptr uintptr) error {
	if _, seen := e.onPath[ptr]; seen {
		return ErrCyclicValue
	}
	e.onPath[ptr] = struct{}{}
	return nil
}

func (e *headEncoder) leave(ptr uintptr) {
	delete(e.onPath, ptr)
}

// marshalValue renders a folded value as JSON bytes. Map keys sort so frames
// are byte-stable for identical inputs.
func (s *Session) marshalValue(v any) ([]byte, error) {
	opts := []json.Options{json.Deterministic(true)}
	if s.opts.Indent != "" {
		opts = append(opts, jsontext.WithIndent(s.opts.Indent))
	}
	return json.Marshal(v, opts...)
}
