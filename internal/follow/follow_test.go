package follow

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"gtail/internal/config"
	"gtail/internal/filespec"
	"gtail/internal/liveness"
	"gtail/internal/logging"
	"gtail/internal/output"
)

type testEngine struct {
	eng *Engine
	reg *filespec.Registry
	buf *bytes.Buffer
}

func newTestEngine(t *testing.T, opts *config.Options, pids []int, paths ...string) *testEngine {
	t.Helper()
	log, err := logging.New(logging.Options{Level: "error", Format: "console", Output: io.Discard})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	reg := filespec.NewRegistry(paths)
	eng := New(Params{
		Options:   opts,
		Registry:  reg,
		Output:    output.NewWriter(&buf, false),
		Logger:    log,
		Liveness:  liveness.New(pids),
		InitialOK: true,
	})
	return &testEngine{eng: eng, reg: reg, buf: &buf}
}

// openSpec opens path and records it on the spec as the initial
// extraction would, with the read offset at end of file.
func openSpec(t *testing.T, f *filespec.FileSpec) {
	t.Helper()
	file, err := os.Open(f.Name)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if f.File != nil {
			f.File.Close()
			f.File = nil
		}
	})
	info, err := file.Stat()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		t.Fatal(err)
	}
	f.RecordOpen(file, info.Size(), info, filespec.BlockingOn)
	f.Tailable = true
}

func TestCheckSpecEmitsAppendedData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, []byte("old\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	opts := config.Default()
	opts.Follow = config.FollowDescriptor
	te := newTestEngine(t, &opts, nil, path)
	f := te.reg.Specs()[0]
	openSpec(t, f)

	w, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.WriteString("grew\n"); err != nil {
		t.Fatal(err)
	}
	w.Close()

	if err := te.eng.checkSpec(f); err != nil {
		t.Fatal(err)
	}
	if te.buf.String() != "grew\n" {
		t.Fatalf("got %q", te.buf.String())
	}
	if f.Size != int64(len("old\ngrew\n")) {
		t.Fatalf("recorded size %d", f.Size)
	}

	// No change means no output and no flush churn.
	te.buf.Reset()
	if err := te.eng.checkSpec(f); err != nil {
		t.Fatal(err)
	}
	if te.buf.Len() != 0 {
		t.Fatalf("unchanged file produced output %q", te.buf.String())
	}
}

func TestCheckSpecTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, []byte("a long first version\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	opts := config.Default()
	opts.Follow = config.FollowDescriptor
	te := newTestEngine(t, &opts, nil, path)
	f := te.reg.Specs()[0]
	openSpec(t, f)

	// Rewriting the file shorter in place is the truncation the
	// follower detects by a shrinking size.
	if err := os.WriteFile(path, []byte("tiny\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := te.eng.checkSpec(f); err != nil {
		t.Fatal(err)
	}
	if te.buf.String() != "tiny\n" {
		t.Fatalf("got %q", te.buf.String())
	}
	if f.Size != int64(len("tiny\n")) {
		t.Fatalf("recorded size %d", f.Size)
	}
}

func TestRecheckFollowsRotatedName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	if err := os.WriteFile(path, []byte("old\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	opts := config.Default()
	opts.Follow = config.FollowName
	te := newTestEngine(t, &opts, nil, path)
	f := te.reg.Specs()[0]
	openSpec(t, f)
	oldIno := f.Ino

	if err := os.Rename(path, path+".1"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("fresh\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	te.eng.recheck(f, true)
	if f.File == nil {
		t.Fatalf("rotated name not reopened: %v", f.Err)
	}
	if f.Ino == oldIno {
		t.Fatal("still following the rotated-away file")
	}
	if f.Size != 0 {
		t.Fatalf("new file must restart at offset zero, size %d", f.Size)
	}

	if err := te.eng.checkSpec(f); err != nil {
		t.Fatal(err)
	}
	if te.buf.String() != "fresh\n" {
		t.Fatalf("got %q", te.buf.String())
	}
}

func TestRecheckRetryRevivesMissingName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	if err := os.WriteFile(path, []byte("old\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	opts := config.Default()
	opts.Follow = config.FollowName
	opts.Retry = true
	te := newTestEngine(t, &opts, nil, path)
	f := te.reg.Specs()[0]
	openSpec(t, f)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	te.eng.recheck(f, true)
	if f.File != nil {
		t.Fatal("vanished name still holds a descriptor")
	}
	if f.Ignore {
		t.Fatal("retry mode must keep trying a vanished name")
	}

	if err := os.WriteFile(path, []byte("back\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	te.eng.recheck(f, true)
	if f.File == nil {
		t.Fatalf("reappeared name not opened: %v", f.Err)
	}
	if err := te.eng.checkSpec(f); err != nil {
		t.Fatal(err)
	}
	if te.buf.String() != "back\n" {
		t.Fatalf("got %q", te.buf.String())
	}
}

func TestRecheckGivesUpOnUntailableType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	if err := os.WriteFile(path, []byte("old\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	opts := config.Default()
	opts.Follow = config.FollowName
	te := newTestEngine(t, &opts, nil, path)
	f := te.reg.Specs()[0]
	openSpec(t, f)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatal(err)
	}

	te.eng.recheck(f, true)
	if f.Tailable {
		t.Fatal("directory reported tailable")
	}
	if !f.Ignore {
		t.Fatal("untailable type must be abandoned without retry")
	}
	if f.File != nil {
		t.Fatal("descriptor kept for untailable name")
	}
}

func TestRunStopsWhenWritersDie(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, []byte("seen\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start helper: %v", err)
	}
	pid := cmd.Process.Pid
	cmd.Wait()

	opts := config.Default()
	opts.Follow = config.FollowDescriptor
	opts.SleepInterval = 10 * time.Millisecond
	opts.DisableInotify = true
	opts.PIDs = []int{pid}

	te := newTestEngine(t, &opts, []int{pid}, path)
	f := te.reg.Specs()[0]
	openSpec(t, f)

	// Bytes written before the writer died must still be drained on the
	// final pass.
	w, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.WriteString("last words\n"); err != nil {
		t.Fatal(err)
	}
	w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := te.eng.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if te.buf.String() != "last words\n" {
		t.Fatalf("got %q", te.buf.String())
	}
}
