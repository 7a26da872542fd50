package output

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dimchansky/utfbom"
	"github.com/use-agent/harvest/models"
)

const tailChunk = 64 << 10

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// JSONLSink stores one JSON entry per line.
type JSONLSink struct {
	path string
	f    *os.File
}

// OpenJSONL opens path for appending, creating it when absent. A torn
// trailing line left by a crash mid-write is cut off first.
func OpenJSONL(path string) (*JSONLSink, error) {
	if err := repairTail(path); err != nil {
		return nil, models.NewHarvestError(models.ErrCodeOutputIO, "repair output tail", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeOutputIO, "open output", err)
	}
	return &JSONLSink{path: path, f: f}, nil
}

func (s *JSONLSink) Append(_ context.Context, e *models.Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	if _, err := s.f.Write(append(b, '\n')); err != nil {
		return err
	}
	return s.f.Sync()
}

func (s *JSONLSink) Walk(ctx context.Context, fn func(models.Entry) error) error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	return ReadEntries(ctx, f, fn)
}

func (s *JSONLSink) Last(context.Context) (*models.Entry, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	line, err := lastLine(f, fi.Size())
	if err != nil || len(line) == 0 {
		return nil, err
	}
	var e models.Entry
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, fmt.Errorf("decode last entry: %w", err)
	}
	return &e, nil
}

func (s *JSONLSink) Close() error { return s.f.Close() }

// ReadEntries decodes a line-delimited entry stream, skipping blank lines
// and a leading byte order mark.
func ReadEntries(ctx context.Context, r io.Reader, fn func(models.Entry) error) error {
	br := bufio.NewReader(utfbom.SkipOnly(r))
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := br.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var e models.Entry
			if derr := json.Unmarshal(line, &e); derr != nil {
				return fmt.Errorf("line %d: %w", n, derr)
			}
			if ferr := fn(e); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// ReadFile streams the entries of a JSONL file.
func ReadFile(ctx context.Context, path string, fn func(models.Entry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return ReadEntries(ctx, f, fn)
}

// lastLine returns the final non-blank line of a file of the given size,
// reading backwards in chunks.
func lastLine(r io.ReaderAt, size int64) ([]byte, error) {
	var buf []byte
	for end := size; end > 0; {
		start := max(end-tailChunk, 0)
		chunk := make([]byte, end-start)
		if _, err := r.ReadAt(chunk, start); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		buf = append(chunk, buf...)
		end = start

		trimmed := bytes.TrimRight(buf, "\r\n\t ")
		if i := bytes.LastIndexByte(trimmed, '\n'); i >= 0 {
			return trimmed[i+1:], nil
		}
	}
	return bytes.TrimPrefix(bytes.TrimRight(buf, "\r\n\t "), utf8BOM), nil
}

// repairTail truncates everything after the last newline.
func repairTail(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}
	size := fi.Size()
	if size == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}

	keep := int64(0)
	for end := size; end > 0; {
		start := max(end-tailChunk, 0)
		chunk := make([]byte, end-start)
		if _, err := f.ReadAt(chunk, start); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			keep = start + int64(i) + 1
			break
		}
		end = start
	}
	slog.Warn("truncating torn trailing line in output", "path", path, "dropped_bytes", size-keep)
	if err := f.Truncate(keep); err != nil {
		return err
	}
	return f.Sync()
}
