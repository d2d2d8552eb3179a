// Package fileutil copies files with integrity checks.
package fileutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CopyResult describes a finished copy.
type CopyResult struct {
	Bytes  int64
	SHA256 string
}

// CopyVerified streams src into dst through a temporary sibling file, checks
// the byte count against the source size, and renames into place. progress,
// when set, receives the copied fraction. A cancelled ctx aborts the copy and
// removes the temporary file.
func CopyVerified(ctx context.Context, src, dst string, progress func(float64)) (CopyResult, error) {
	info, err := os.Stat(src)
	if err != nil {
		return CopyResult{}, fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return CopyResult{}, fmt.Errorf("source %s is a directory", src)
	}

	in, err := os.Open(src)
	if err != nil {
		return CopyResult{}, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return CopyResult{}, fmt.Errorf("create destination dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return CopyResult{}, fmt.Errorf("create temp file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	hasher := sha256.New()
	reader := &progressReader{ctx: ctx, r: in, total: info.Size(), progress: progress}
	written, err := io.Copy(io.MultiWriter(tmp, hasher), reader)
	if err != nil {
		return CopyResult{}, err
	}
	if written != info.Size() {
		return CopyResult{}, fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", info.Size(), written)
	}
	if err := tmp.Sync(); err != nil {
		return CopyResult{}, fmt.Errorf("sync destination: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return CopyResult{}, err
	}
	if err := os.Chmod(tmp.Name(), info.Mode().Perm()|0o600); err != nil {
		return CopyResult{}, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return CopyResult{}, fmt.Errorf("move into place: %w", err)
	}
	committed = true
	return CopyResult{Bytes: written, SHA256: hex.EncodeToString(hasher.Sum(nil))}, nil
}

// FileSHA256 returns the hex digest of path.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type progressReader struct {
	ctx      context.Context
	r        io.Reader
	total    int64
	read     int64
	progress func(float64)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(buf)
	p.read += int64(n)
	if p.progress != nil && p.total > 0 && n > 0 {
		p.progress(float64(p.read) / float64(p.total))
	}
	if errors.Is(err, io.EOF) {
		return n, io.EOF
	}
	return n, err
}
