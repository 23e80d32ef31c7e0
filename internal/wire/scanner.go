package wire

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-json-experiment/json/jsontext"
)

var (
	// ErrInterrupted reports that the byte source ended before the outer
	// frame closed.
	ErrInterrupted = errors.New("wire: stream ended unexpectedly")

	// ErrFrameShape reports input that is well-formed JSON but not a tson
	// frame.
	ErrFrameShape = errors.New("wire: malformed frame")
)

// Scanner incrementally parses one tson frame from an io.Reader. Head must
// be called once, then Row until it returns io.EOF (clean frame end) or an
// error. Chunk boundaries in the underlying reader may fall anywhere,
// including mid-token; buffering is handled by the jsontext decoder.
type Scanner struct {
	dec      *jsontext.Decoder
	headRead bool
	tailOpen bool
	done     bool
}

func NewScanner(r io.Reader) *Scanner {
	return &Scanner{dec: jsontext.NewDecoder(r)}
}

// Head consumes the outer array opening and returns the raw head value.
func (s *Scanner) Head() (jsontext.Value, error) {
	if s.headRead {
		return nil, fmt.Errorf("%w: head already read", ErrFrameShape)
	}
	s.headRead = true
	tok, err := s.dec.ReadToken()
	if err != nil {
		return nil, interruption(err)
	}
	if tok.Kind() != '[' {
		return nil, fmt.Errorf("%w: expected outer array, got %q", ErrFrameShape, tok.Kind())
	}
	if k := s.dec.PeekKind(); k != '{' && k != 0 {
		return nil, fmt.Errorf("%w: expected head object, got %q", ErrFrameShape, k)
	}
	head, err := s.dec.ReadValue()
	if err != nil {
		return nil, interruption(err)
	}
	return head, nil
}

// Row returns the next raw tail row in stream order. io.EOF reports the
// clean end of the frame; ErrInterrupted reports a source that ended before
// the outer array closed.
func (s *Scanner) Row() (jsontext.Value, error) {
	if !s.headRead {
		return nil, fmt.Errorf("%w: row before head", ErrFrameShape)
	}
	if s.done {
		return nil, io.EOF
	}
	if !s.tailOpen {
		tok, err := s.dec.ReadToken()
		if err != nil {
			return nil, interruption(err)
		}
		if tok.Kind() != '[' {
			return nil, fmt.Errorf("%w: expected tail array, got %q", ErrFrameShape, tok.Kind())
		}
		s.tailOpen = true
	}
	if s.dec.PeekKind() == ']' {
		if _, err := s.dec.ReadToken(); err != nil {
			return nil, interruption(err)
		}
		// Outer array close.
		tok, err := s.dec.ReadToken()
		if err != nil {
			return nil, interruption(err)
		}
		if tok.Kind() != ']' {
			return nil, fmt.Errorf("%w: expected frame close, got %q", ErrFrameShape, tok.Kind())
		}
		s.done = true
		return nil, io.EOF
	}
	row, err := s.dec.ReadValue()
	if err != nil {
		return nil, interruption(err)
	}
	return row, nil
}

// interruption maps decoder-level end-of-input and syntax failures onto
// ErrInterrupted while preserving the underlying cause.
func interruption(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrInterrupted
	}
	return fmt.Errorf("%w: %v", ErrInterrupted, err)
}
