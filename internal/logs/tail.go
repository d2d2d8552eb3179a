package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const pollInterval = 250 * time.Millisecond

// TailOptions controls a Tail call. A negative Offset means "the last Limit
// lines"; otherwise lines after Offset are returned.
type TailOptions struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
}

// TailResult holds the lines read and the offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads lines from path. With Follow and a positive Wait it polls until
// a line arrives, Wait elapses, or ctx ends. A missing file yields no lines.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return TailResult{}, nil
	}
	if err != nil {
		return TailResult{Offset: opts.Offset}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return TailResult{Offset: opts.Offset}, fmt.Errorf("log path %q is a directory", path)
	}

	var result TailResult
	if opts.Offset < 0 {
		result.Lines, result.Offset, err = readLastLines(path, opts.Limit)
	} else {
		offset := opts.Offset
		if offset > info.Size() {
			// Truncated or rotated; start over.
			offset = 0
		}
		result.Lines, result.Offset, err = readForward(path, offset)
	}
	if err != nil {
		return result, err
	}
	if len(result.Lines) > 0 || !opts.Follow || opts.Wait <= 0 {
		return result, nil
	}
	return waitForLines(ctx, path, result.Offset, opts.Wait)
}

func readLastLines(path string, limit int) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if limit <= 0 {
		end, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, fmt.Errorf("seek log file: %w", err)
		}
		return nil, end, nil
	}

	ring := make([]string, limit)
	count, next := 0, 0
	end, err := scanLines(file, func(line string) {
		ring[next] = line
		next = (next + 1) % limit
		count = min(count+1, limit)
	})
	if err != nil {
		return nil, 0, err
	}

	lines := make([]string, 0, count)
	start := 0
	if count == limit {
		start = next
	}
	for i := range count {
		lines = append(lines, ring[(start+i)%limit])
	}
	return lines, end, nil
}

func readForward(path string, offset int64) ([]string, int64, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek log file: %w", err)
	}
	var lines []string
	read, err := scanLines(file, func(line string) { lines = append(lines, line) })
	if err != nil {
		return nil, offset, err
	}
	return lines, offset + read, nil
}

// scanLines feeds every complete line to fn and returns the number of bytes
// consumed. A trailing partial line is left for the next read.
func scanLines(r io.Reader, fn func(string)) (int64, error) {
	reader := bufio.NewReaderSize(r, 64*1024)
	var consumed int64
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			return consumed, nil
		}
		if err != nil {
			return consumed, fmt.Errorf("read log file: %w", err)
		}
		consumed += int64(len(line))
		fn(line[:len(line)-1])
	}
}

func waitForLines(ctx context.Context, path string, offset int64, wait time.Duration) (TailResult, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return TailResult{Offset: offset}, ctx.Err()
		case <-deadline.C:
			return TailResult{Offset: offset}, nil
		case <-ticker.C:
		}
		lines, next, err := readForward(path, offset)
		if err != nil {
			return TailResult{Offset: offset}, err
		}
		if len(lines) > 0 {
			return TailResult{Lines: lines, Offset: next}, nil
		}
		offset = next
	}
}
