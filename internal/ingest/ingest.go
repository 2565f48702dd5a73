package ingest

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/miradorstack/mirador-logscope/internal/cache"
	"github.com/miradorstack/mirador-logscope/internal/utils"
)

// DefaultMaxLineBytes bounds a single log line.
const DefaultMaxLineBytes = 64 * 1024

// Lines is the content of one input.
type Lines struct {
	Lines []string
	// Oversized counts lines dropped for reaching the byte limit.
	Oversized int
	// End is the byte offset just past the last consumed line.
	End int64
	// Restarted is set when the file was shorter than the requested offset
	// and was read from the start instead.
	Restarted bool
}

// Cursors remembers how far each file has been read.
type Cursors interface {
	Offset(ctx context.Context, path string) (int64, error)
	SetOffset(ctx context.Context, path string, offset int64) error
}

// MemoryCursors keeps offsets for the life of the process.
type MemoryCursors struct {
	mu      sync.Mutex
	offsets map[string]int64
}

// NewMemoryCursors returns an empty cursor set.
func NewMemoryCursors() *MemoryCursors {
	return &MemoryCursors{offsets: make(map[string]int64)}
}

// Offset returns the stored offset for path, zero if none.
func (m *MemoryCursors) Offset(_ context.Context, path string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offsets[path], nil
}

// SetOffset records offset for path.
func (m *MemoryCursors) SetOffset(_ context.Context, path string, offset int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offsets[path] = offset
	return nil
}

// Discover returns the regular files under dir whose base name matches glob,
// sorted by path.
func Discover(dir, glob string, recursive bool) ([]string, error) {
	if glob == "" {
		glob = "*.log"
	}
	if _, err := filepath.Match(glob, ""); err != nil {
		return nil, utils.NewFileError("discover", dir, "invalid glob "+glob, err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, utils.NewFileError("discover", dir, "stat log directory", err)
	}
	if !info.IsDir() {
		return nil, utils.NewFileError("discover", dir, "not a directory", nil)
	}

	files := make([]string, 0)
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if ok, _ := filepath.Match(glob, d.Name()); ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, utils.NewFileError("discover", dir, "walk log directory", err)
	}
	sort.Strings(files)
	return files, nil
}

// ReadFile reads path line by line. Files ending in .gz are decompressed.
func ReadFile(path string, maxLineBytes int) (Lines, error) {
	f, err := os.Open(path)
	if err != nil {
		return Lines{}, utils.NewFileError("read", path, "open log file", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return Lines{}, utils.NewFileError("read", path, "open gzip stream", err)
		}
		defer gz.Close()
		r = gz
	}
	lines, err := ReadLines(r, maxLineBytes)
	if err != nil {
		return lines, utils.NewFileError("read", path, "read lines", err)
	}
	return lines, nil
}

// ReadFileFrom reads the complete lines of path that start at offset. An
// unterminated final line is left for the next call. A file shorter than
// offset is read from the start. Compressed files cannot be tailed: they are
// read whole and then skipped while their size stays at offset.
func ReadFileFrom(path string, offset int64, maxLineBytes int) (Lines, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Lines{}, utils.NewFileError("read", path, "stat log file", err)
	}
	size := info.Size()

	if strings.HasSuffix(path, ".gz") {
		if offset > 0 && offset == size {
			return Lines{Lines: make([]string, 0), End: size}, nil
		}
		lines, err := ReadFile(path, maxLineBytes)
		lines.End = size
		lines.Restarted = offset > 0
		return lines, err
	}

	restarted := false
	if offset < 0 || offset > size {
		offset, restarted = 0, true
	}
	f, err := os.Open(path)
	if err != nil {
		return Lines{}, utils.NewFileError("read", path, "open log file", err)
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return Lines{}, utils.NewFileError("read", path, "seek to offset", err)
	}

	lines, consumed, err := readLines(f, maxLineBytes, false)
	lines.End = offset + consumed
	lines.Restarted = restarted
	if err != nil {
		return lines, utils.NewFileError("read", path, "read lines", err)
	}
	return lines, nil
}

// ReadLines splits r into lines without their terminators. Lines of
// maxLineBytes or more are skipped and counted in Oversized.
func ReadLines(r io.Reader, maxLineBytes int) (Lines, error) {
	lines, consumed, err := readLines(r, maxLineBytes, true)
	lines.End = consumed
	return lines, err
}

// readLines returns the lines of r and the bytes they spanned. With partial
// unset a final line lacking its newline is neither returned nor counted.
func readLines(r io.Reader, maxLineBytes int, partial bool) (Lines, int64, error) {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	br := bufio.NewReaderSize(r, maxLineBytes)
	out := Lines{Lines: make([]string, 0)}
	var (
		consumed  int64
		pending   int64
		oversized bool
	)
	for {
		chunk, err := br.ReadSlice('\n')
		pending += int64(len(chunk))
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			oversized = true
			continue
		case errors.Is(err, io.EOF):
			if pending > 0 && partial {
				consumed += pending
				if oversized {
					out.Oversized++
				} else {
					out.Lines = append(out.Lines, trimEOL(chunk))
				}
			}
			return out, consumed, nil
		case err != nil:
			return out, consumed, err
		}

		consumed += pending
		if oversized {
			out.Oversized++
		} else {
			out.Lines = append(out.Lines, trimEOL(chunk))
		}
		pending, oversized = 0, false
	}
}

func trimEOL(b []byte) string {
	b = bytes.TrimSuffix(b, []byte{'\n'})
	b = bytes.TrimSuffix(b, []byte{'\r'})
	return string(b)
}

// Unseen filters paths down to files whose size and modification time have
// not been recorded in provider within ttl. Cache failures let the file
// through. It only gates work; callers tail changed files with ReadFileFrom.
func Unseen(ctx context.Context, provider cache.Provider, paths []string, ttl time.Duration) ([]string, error) {
	if provider == nil {
		return paths, nil
	}
	out := make([]string, 0, len(paths))
	var errs []error
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			out = append(out, path)
			continue
		}
		key := fmt.Sprintf("seen:%s:%d:%d", path, info.Size(), info.ModTime().UnixNano())
		fresh, err := provider.SetNX(ctx, key, []byte{1}, ttl)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			out = append(out, path)
			continue
		}
		if fresh {
			out = append(out, path)
		}
	}
	return out, errors.Join(errs...)
}
