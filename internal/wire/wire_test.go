package wire

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestWriterFramingEmptyTail(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteHead([]byte(`{"json":{"foo":"bar"},"nonce":"__tson"}`)); err != nil {
		t.Fatalf("write head: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	want := "[\n{\"json\":{\"foo\":\"bar\"},\"nonce\":\"__tson\"}\n,\n[\n]\n]"
	if buf.String() != want {
		t.Fatalf("frame mismatch:\n got %q\nwant %q", buf.String(), want)
	}
}

func TestWriterFramingRows(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteHead([]byte(`{"json":1,"nonce":"n"}`)); err != nil {
		t.Fatalf("write head: %v", err)
	}
	for _, row := range []string{`[0,[0,1]]`, `[1,[0,2]]`, `[0,[2]]`} {
		if err := w.WriteRow([]byte(row)); err != nil {
			t.Fatalf("write row: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	want := "[\n{\"json\":1,\"nonce\":\"n\"}\n,\n[\n[0,[0,1]]\n,[1,[0,2]]\n,[0,[2]]\n]\n]"
	if buf.String() != want {
		t.Fatalf("frame mismatch:\n got %q\nwant %q", buf.String(), want)
	}
}

func TestWriterRejectsUseAfterClose(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteHead([]byte(`{"json":1,"nonce":"n"}`)); err != nil {
		t.Fatalf("write head: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := w.WriteRow([]byte(`[0,[2]]`)); !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("expected ErrWriterClosed, got %v", err)
	}
	if err := w.Close(); !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("expected ErrWriterClosed on double close, got %v", err)
	}
}

func TestScannerHeadAndRows(t *testing.T) {
	frame := "[\n{\"json\":1,\"nonce\":\"n\"}\n,\n[\n[0,[0,\"a\"]]\n,[0,[2]]\n]\n]"
	sc := NewScanner(strings.NewReader(frame))
	head, err := sc.Head()
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if string(head) != `{"json":1,"nonce":"n"}` {
		t.Fatalf("unexpected head: %s", head)
	}
	rows := make([]string, 0, 2)
	for {
		row, err := sc.Row()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("row: %v", err)
		}
		rows = append(rows, string(row))
	}
	if len(rows) != 2 || rows[0] != `[0,[0,"a"]]` || rows[1] != `[0,[2]]` {
		t.Fatalf("unexpected rows: %v", rows)
	}
}

// oneByteReader forces the worst-case chunking: every read returns a single
// byte, so token boundaries never align with reads.
type oneByteReader struct{ r io.Reader }

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return o.r.Read(p)
}

func TestScannerSplitsAnywhere(t *testing.T) {
	frame := "[\n{\"json\":{\"foo\":\"bar\"},\"nonce\":\"__tson\"}\n,\n[\n[0,[0,42]]\n]\n]"
	sc := NewScanner(oneByteReader{strings.NewReader(frame)})
	head, err := sc.Head()
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if string(head) != `{"json":{"foo":"bar"},"nonce":"__tson"}` {
		t.Fatalf("unexpected head: %s", head)
	}
	row, err := sc.Row()
	if err != nil {
		t.Fatalf("row: %v", err)
	}
	if string(row) != `[0,[0,42]]` {
		t.Fatalf("unexpected row: %s", row)
	}
	if _, err := sc.Row(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestScannerInterruptedMidRow(t *testing.T) {
	frame := "[\n{\"json\":1,\"nonce\":\"n\"}\n,\n[\n[0,[0,\"a\"]]\n,[0,[0,"
	sc := NewScanner(strings.NewReader(frame))
	if _, err := sc.Head(); err != nil {
		t.Fatalf("head: %v", err)
	}
	if _, err := sc.Row(); err != nil {
		t.Fatalf("first row: %v", err)
	}
	if _, err := sc.Row(); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
}

func TestScannerInterruptedBeforeTail(t *testing.T) {
	frame := "[\n{\"json\":1,\"nonce\":\"n\"}\n,\n"
	sc := NewScanner(strings.NewReader(frame))
	if _, err := sc.Head(); err != nil {
		t.Fatalf("head: %v", err)
	}
	if _, err := sc.Row(); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
}

func TestScannerInterruptedMidHead(t *testing.T) {
	sc := NewScanner(strings.NewReader("[\n{\"json\":{\"fo"))
	if _, err := sc.Head(); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
}

func TestScannerRejectsWrongShape(t *testing.T) {
	sc := NewScanner(strings.NewReader(`{"not":"a frame"}`))
	if _, err := sc.Head(); !errors.Is(err, ErrFrameShape) {
		t.Fatalf("expected ErrFrameShape, got %v", err)
	}

	sc = NewScanner(strings.NewReader("[\n{\"json\":1,\"nonce\":\"n\"}\n,\n\"rows\"\n]"))
	if _, err := sc.Head(); err != nil {
		t.Fatalf("head: %v", err)
	}
	if _, err := sc.Row(); !errors.Is(err, ErrFrameShape) {
		t.Fatalf("expected ErrFrameShape, got %v", err)
	}
}
