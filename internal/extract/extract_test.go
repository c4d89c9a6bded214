package extract

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemp(t *testing.T, content string) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func tailString(t *testing.T, content string, opts Options) string {
	t.Helper()
	f := writeTemp(t, content)
	var buf bytes.Buffer
	if _, err := Tail(&buf, "input.txt", f, opts); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func numberedLines(n int) string {
	var sb strings.Builder
	for i := 1; i <= n; i++ {
		sb.WriteString("line ")
		sb.WriteByte(byte('0' + i/10))
		sb.WriteByte(byte('0' + i%10))
		sb.WriteByte('\n')
	}
	return sb.String()
}

func TestTailLinesFile(t *testing.T) {
	content := numberedLines(12)
	got := tailString(t, content, Options{Lines: true, Count: 5, Terminator: '\n'})
	want := "line 08\nline 09\nline 10\nline 11\nline 12\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestTailLinesWholeFile(t *testing.T) {
	content := numberedLines(3)
	got := tailString(t, content, Options{Lines: true, Count: 10, Terminator: '\n'})
	if got != content {
		t.Fatalf("got %q, want %q", got, content)
	}
}

func TestTailLinesZero(t *testing.T) {
	got := tailString(t, numberedLines(4), Options{Lines: true, Count: 0, Terminator: '\n'})
	if got != "" {
		t.Fatalf("expected no output, got %q", got)
	}
}

func TestTailLinesNoTrailingNewline(t *testing.T) {
	got := tailString(t, "alpha\nbeta\ngamma", Options{Lines: true, Count: 2, Terminator: '\n'})
	want := "beta\ngamma"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestTailLinesMatchesStreamingPath(t *testing.T) {
	// The backward block scan and the streaming chunk chain must agree
	// on every window size.
	content := numberedLines(37) + "unterminated tail"
	for count := uint64(0); count <= 40; count++ {
		seekable := tailString(t, content, Options{Lines: true, Count: count, Terminator: '\n'})
		streamed := tailString(t, content, Options{Lines: true, Count: count, Terminator: '\n', PresumePipe: true})
		if seekable != streamed {
			t.Fatalf("count %d: file path %q, pipe path %q", count, seekable, streamed)
		}
	}
}

func TestTailLinesFromStart(t *testing.T) {
	content := numberedLines(5)
	// Skip two lines, emit the rest.
	got := tailString(t, content, Options{Lines: true, Count: 2, FromStart: true, Terminator: '\n'})
	want := "line 03\nline 04\nline 05\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestTailLinesFromStartPipe(t *testing.T) {
	content := numberedLines(5)
	got := tailString(t, content, Options{Lines: true, Count: 2, FromStart: true, Terminator: '\n', PresumePipe: true})
	want := "line 03\nline 04\nline 05\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestTailLinesSkipAll(t *testing.T) {
	content := numberedLines(6)
	f := writeTemp(t, content)
	var buf bytes.Buffer
	pos, err := Tail(&buf, "input.txt", f, Options{
		Lines: true, Count: CountAll, FromStart: true, Terminator: '\n',
	})
	if err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Fatalf("skip-everything produced output %q", buf.String())
	}
	// A single seek must still land the resume offset at end of file.
	if pos != int64(len(content)) {
		t.Fatalf("read position %d, want %d", pos, len(content))
	}
}

func TestTailLinesZeroTerminator(t *testing.T) {
	content := "one\x00two\x00three\x00"
	got := tailString(t, content, Options{Lines: true, Count: 2, Terminator: 0})
	want := "two\x00three\x00"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestTailBytesFile(t *testing.T) {
	got := tailString(t, "abcdefghij", Options{Count: 4})
	if got != "ghij" {
		t.Fatalf("got %q, want %q", got, "ghij")
	}
}

func TestTailBytesWholeFile(t *testing.T) {
	got := tailString(t, "abc", Options{Count: 100})
	if got != "abc" {
		t.Fatalf("got %q, want %q", got, "abc")
	}
}

func TestTailBytesFromStart(t *testing.T) {
	got := tailString(t, "abcdefghij", Options{Count: 3, FromStart: true})
	if got != "defghij" {
		t.Fatalf("got %q, want %q", got, "defghij")
	}
}

func TestTailBytesPipe(t *testing.T) {
	got := tailString(t, "abcdefghij", Options{Count: 4, PresumePipe: true})
	if got != "ghij" {
		t.Fatalf("got %q, want %q", got, "ghij")
	}
}

func TestTailBytesAll(t *testing.T) {
	content := "everything goes through\n"
	got := tailString(t, content, Options{Count: CountAll})
	if got != content {
		t.Fatalf("got %q, want %q", got, content)
	}
}

func TestTailReturnsReadPos(t *testing.T) {
	content := numberedLines(12)
	f := writeTemp(t, content)
	var buf bytes.Buffer
	pos, err := Tail(&buf, "input.txt", f, Options{Lines: true, Count: 3, Terminator: '\n'})
	if err != nil {
		t.Fatal(err)
	}
	if pos != int64(len(content)) {
		t.Fatalf("read position %d, want %d", pos, len(content))
	}
}

func TestTailLinesRealPipe(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	content := numberedLines(25)
	go func() {
		w.WriteString(content)
		w.Close()
	}()

	var buf bytes.Buffer
	if _, err := Tail(&buf, "pipe", r, Options{Lines: true, Count: 4, Terminator: '\n'}); err != nil {
		t.Fatal(err)
	}
	want := "line 22\nline 23\nline 24\nline 25\n"
	if buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}
}

func TestTailLinesLargeStreaming(t *testing.T) {
	// Force the chunk chain to retire and recycle buffers.
	var sb strings.Builder
	for i := 0; i < 5000; i++ {
		sb.WriteString("padding padding padding padding line\n")
	}
	sb.WriteString("last-1\nlast-2\n")
	got := tailString(t, sb.String(), Options{Lines: true, Count: 2, Terminator: '\n', PresumePipe: true})
	if got != "last-1\nlast-2\n" {
		t.Fatalf("got %q", got)
	}
}

func TestCopyRemainder(t *testing.T) {
	f := writeTemp(t, "0123456789")
	if _, err := f.Seek(4, 0); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	n, err := CopyRemainder(&buf, "input.txt", f, CopyToEOF)
	if err != nil {
		t.Fatal(err)
	}
	if n != 6 || buf.String() != "456789" {
		t.Fatalf("copied %d bytes %q", n, buf.String())
	}
}

func TestCopyRemainderLimited(t *testing.T) {
	f := writeTemp(t, "0123456789")
	var buf bytes.Buffer
	n, err := CopyRemainder(&buf, "input.txt", f, 3)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 || buf.String() != "012" {
		t.Fatalf("copied %d bytes %q", n, buf.String())
	}
}
