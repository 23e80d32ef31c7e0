package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/danmuck/tson"
	"github.com/danmuck/tson/internal/logging"
)

func main() {
	logging.ConfigureRuntime()
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "tsonctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("tsonctl", flag.ContinueOnError)
	inPath := fs.String("in", "-", "input file, - for stdin")
	outPath := fs.String("out", "-", "output file, - for stdout")
	indent := fs.String("indent", "", "indent for encoded JSON values")
	nonce := fs.String("nonce", "", "fixed nonce instead of a fresh one")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: tsonctl [flags] encode|decode")
	}

	in, err := openInput(*inPath)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := openOutput(*outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	opts := tson.Options{Indent: *indent}
	if *nonce != "" {
		fixed := *nonce
		opts.Nonce = func() string { return fixed }
	}
	session := tson.New(opts)

	switch mode := fs.Arg(0); mode {
	case "encode":
		return encode(session, in, out)
	case "decode":
		return decode(session, in, out)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

// encode reads one plain JSON document and wraps it as a tson frame. The
// tail is empty: a document has no live producers.
func encode(session *tson.Session, in io.Reader, out io.Writer) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("parse input: %w", err)
	}
	return session.Encode(context.Background(), out, root)
}

// decode reads one tson frame, waits for every producer in it to settle,
// and prints the collected plain JSON tree.
func decode(session *tson.Session, in io.Reader, out io.Writer) error {
	ctx := context.Background()
	root, err := session.Decode(ctx, in)
	if err != nil {
		return err
	}
	collected, err := tson.Collect(ctx, root)
	if err != nil {
		return err
	}
	data, err := json.Marshal(collected, json.Deterministic(true), jsontext.WithIndent("  "))
	if err != nil {
		return err
	}
	if _, err := out.Write(data); err != nil {
		return err
	}
	_, err = io.WriteString(out, "\n")
	return err
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func openOutput(path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopWriteCloser{os.Stdout}, nil
	}
	return os.Create(path)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
