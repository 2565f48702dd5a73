package ingest

import (
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-logscope/internal/cache"
	"github.com/miradorstack/mirador-logscope/internal/utils"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.log"), "x\n")
	writeFile(t, filepath.Join(dir, "a.log"), "x\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "x\n")
	writeFile(t, filepath.Join(dir, "nested", "c.log"), "x\n")

	files, err := Discover(dir, "*.log", false)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "a.log" || filepath.Base(files[1]) != "b.log" {
		t.Fatalf("unexpected files %v", files)
	}

	files, err = Discover(dir, "*.log", true)
	if err != nil || len(files) != 3 {
		t.Fatalf("expected nested file with recursion, got %v %v", files, err)
	}

	_, err = Discover(filepath.Join(dir, "missing"), "*.log", false)
	if appErr, ok := utils.AsAppError(err); !ok || appErr.Op != "discover" {
		t.Fatalf("expected discover AppError, got %v", err)
	}
}

func TestReadLinesSkipsOversized(t *testing.T) {
	input := "short\r\n" + strings.Repeat("x", 100) + "\nlast"
	lines, err := ReadLines(strings.NewReader(input), 32)
	if err != nil {
		t.Fatalf("read lines: %v", err)
	}
	if len(lines.Lines) != 2 || lines.Lines[0] != "short" || lines.Lines[1] != "last" {
		t.Fatalf("unexpected lines %q", lines.Lines)
	}
	if lines.Oversized != 1 {
		t.Fatalf("expected one oversized line, got %d", lines.Oversized)
	}
}

func TestReadFileGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write([]byte("one\ntwo\n")); err != nil {
		t.Fatalf("write gzip: %v", err)
	}
	gz.Close()
	f.Close()

	lines, err := ReadFile(path, 0)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if len(lines.Lines) != 2 || lines.Lines[1] != "two" {
		t.Fatalf("unexpected lines %q", lines.Lines)
	}

	if _, err := ReadFile(filepath.Join(t.TempDir(), "nope.log"), 0); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestUnseen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "access.log")
	writeFile(t, path, "one\n")

	provider, err := cache.NewBigCacheProvider(context.Background(), cache.BigCacheConfig{LifeWindow: time.Hour})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer provider.Close()

	ctx := context.Background()
	if got, err := Unseen(ctx, provider, []string{path}, time.Hour); err != nil || len(got) != 1 {
		t.Fatalf("expected new file, got %v %v", got, err)
	}
	if got, _ := Unseen(ctx, provider, []string{path}, time.Hour); len(got) != 0 {
		t.Fatalf("expected file to be seen, got %v", got)
	}

	writeFile(t, path, "one\ntwo\n")
	if got, _ := Unseen(ctx, provider, []string{path}, time.Hour); len(got) != 1 {
		t.Fatalf("expected grown file to be processed again, got %v", got)
	}
	if got, _ := Unseen(ctx, nil, []string{path}, time.Hour); len(got) != 1 {
		t.Fatalf("nil provider should pass everything through")
	}
}

func TestReadFileFromTailsCompleteLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	writeFile(t, path, "one\ntwo\nthr")

	first, err := ReadFileFrom(path, 0, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(first.Lines) != 2 || first.End != 8 {
		t.Fatalf("expected two complete lines ending at 8, got %q end=%d", first.Lines, first.End)
	}

	writeFile(t, path, "one\ntwo\nthree\nfour\n")
	next, err := ReadFileFrom(path, first.End, 0)
	if err != nil {
		t.Fatalf("read tail: %v", err)
	}
	if len(next.Lines) != 2 || next.Lines[0] != "three" || next.Lines[1] != "four" || next.End != 19 {
		t.Fatalf("expected the appended lines only, got %q end=%d", next.Lines, next.End)
	}

	idle, err := ReadFileFrom(path, next.End, 0)
	if err != nil || len(idle.Lines) != 0 || idle.End != next.End {
		t.Fatalf("expected nothing new, got %q end=%d err=%v", idle.Lines, idle.End, err)
	}

	writeFile(t, path, "new\n")
	rotated, err := ReadFileFrom(path, next.End, 0)
	if err != nil {
		t.Fatalf("read rotated: %v", err)
	}
	if !rotated.Restarted || len(rotated.Lines) != 1 || rotated.Lines[0] != "new" || rotated.End != 4 {
		t.Fatalf("expected a restart from the top, got %+v", rotated)
	}
}

func TestMemoryCursors(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCursors()
	if off, err := c.Offset(ctx, "a.log"); err != nil || off != 0 {
		t.Fatalf("expected zero offset, got %d %v", off, err)
	}
	if err := c.SetOffset(ctx, "a.log", 42); err != nil {
		t.Fatalf("set offset: %v", err)
	}
	if off, _ := c.Offset(ctx, "a.log"); off != 42 {
		t.Fatalf("expected 42, got %d", off)
	}
}
