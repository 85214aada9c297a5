package message

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Result is one item read from an event log: either an event or the error
// that prevented reading it. Errors do not stop reading.
type Result struct {
	Event Event
	Line  int
	Err   error
}

func compressed(path string) bool {
	return strings.HasSuffix(path, ".zst")
}

// WriteLog writes events as NDJSON to path, zstd-compressed when the path
// ends in ".zst".
func WriteLog(path string, events []Event) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create event log %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close event log: %w", cerr)
		}
	}()

	var w io.Writer = f
	var enc *zstd.Encoder
	if compressed(path) {
		enc, err = zstd.NewWriter(f)
		if err != nil {
			return fmt.Errorf("create zstd writer: %w", err)
		}
		w = enc
	}

	bw := bufio.NewWriter(w)
	for _, e := range events {
		if err := Encode(bw, e); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush event log: %w", err)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return fmt.Errorf("close zstd writer: %w", err)
		}
	}
	return nil
}

// OpenLog opens an event log for reading, transparently decompressing
// ".zst" files. An empty path means stdin.
func OpenLog(path string) (io.ReadCloser, error) {
	if path == "" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	if !compressed(path) {
		return f, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	return &zstdFile{Decoder: dec, f: f}, nil
}

type zstdFile struct {
	*zstd.Decoder
	f *os.File
}

func (z *zstdFile) Close() error {
	z.Decoder.Close()
	return z.f.Close()
}

// ReadEvents streams events from r on a channel. Empty lines are skipped;
// malformed lines are delivered as errors and reading continues. The channel
// is closed at EOF.
func ReadEvents(r io.Reader, source string) <-chan Result {
	ch := make(chan Result, 100)

	go func() {
		defer close(ch)

		var dec Decoder
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		lineNumber := 0

		for scanner.Scan() {
			lineNumber++
			line := scanner.Bytes()
			if len(strings.TrimSpace(string(line))) == 0 {
				continue
			}

			e, err := dec.Decode(line)
			if err != nil {
				ch <- Result{Line: lineNumber, Err: fmt.Errorf("%s line %d: %w", source, lineNumber, err)}
				continue
			}
			ch <- Result{Event: e, Line: lineNumber}
		}

		if err := scanner.Err(); err != nil {
			ch <- Result{Line: lineNumber, Err: fmt.Errorf("scanner error in %s: %w", source, err)}
		}
	}()

	return ch
}

// ReadAll collects every decodable event from r and returns how many lines
// were rejected.
func ReadAll(r io.Reader, source string) ([]Event, int) {
	var events []Event
	rejected := 0
	for res := range ReadEvents(r, source) {
		if res.Err != nil {
			rejected++
			continue
		}
		events = append(events, res.Event)
	}
	return events, rejected
}

// ReadLog reads every decodable event from the log at path and returns how
// many lines were rejected.
func ReadLog(path string) ([]Event, int, error) {
	rc, err := OpenLog(path)
	if err != nil {
		return nil, 0, err
	}
	defer rc.Close()

	source := path
	if source == "" {
		source = "stdin"
	}
	events, rejected := ReadAll(rc, source)
	return events, rejected, nil
}
