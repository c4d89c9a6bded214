package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// consoleHandler writes one diagnostic per line in the traditional tool
// style: "gtail: <file>: <message>", with any remaining attributes
// appended as key=value pairs.
type consoleHandler struct {
	mu     sync.Mutex
	writer io.Writer
	level  *slog.LevelVar
	attrs  []slog.Attr
}

func newConsoleHandler(w io.Writer, lvl *slog.LevelVar) slog.Handler {
	return &consoleHandler{writer: w, level: lvl}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	kvs := make([]slog.Attr, 0, record.NumAttrs()+len(h.attrs))
	kvs = append(kvs, h.attrs...)
	record.Attrs(func(attr slog.Attr) bool {
		kvs = append(kvs, attr)
		return true
	})

	var file, errVal string
	rest := kvs[:0]
	for _, attr := range kvs {
		switch attr.Key {
		case "file":
			if file == "" {
				file = attr.Value.String()
				continue
			}
		case "error", "err":
			if errVal == "" {
				errVal = attr.Value.String()
				continue
			}
		}
		rest = append(rest, attr)
	}

	var buf bytes.Buffer
	buf.WriteString("gtail: ")
	if record.Level <= slog.LevelDebug {
		buf.WriteString("debug: ")
	} else if record.Level >= slog.LevelError {
		buf.WriteString("error: ")
	}
	if file != "" {
		buf.WriteString(file)
		buf.WriteString(": ")
	}
	buf.WriteString(strings.TrimSpace(record.Message))
	if errVal != "" {
		buf.WriteString(": ")
		buf.WriteString(errVal)
	}
	for _, attr := range rest {
		fmt.Fprintf(&buf, " %s=%s", attr.Key, attr.Value.String())
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.writer.Write(buf.Bytes())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &consoleHandler{writer: h.writer, level: h.level, attrs: merged}
}

func (h *consoleHandler) WithGroup(string) slog.Handler { return h }
