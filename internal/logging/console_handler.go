package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleFieldLimit caps the fields shown on INFO and higher lines; DEBUG
// lines show everything.
const consoleFieldLimit = 8

// consoleHandler renders one human-readable line per record:
//
//	2026-05-01 10:02:03 INFO [transfer] usb:001,004 Canon EOS 80D (job 0123abcd) - file copied copied_files=2
type consoleHandler struct {
	out       *lockedWriter
	level     *slog.LevelVar
	addSource bool
	prefix    string
	fields    []field
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

type field struct {
	key   string
	value slog.Value
}

func newPrettyHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &consoleHandler{out: &lockedWriter{w: w}, level: lvl, addSource: addSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.fields = slices.Clone(h.fields)
	for _, attr := range attrs {
		next.fields = appendField(next.fields, h.prefix, attr)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	if !h.Enabled(context.Background(), record.Level) {
		return nil
	}
	fields := slices.Clone(h.fields)
	record.Attrs(func(attr slog.Attr) bool {
		fields = appendField(fields, h.prefix, attr)
		return true
	})
	fields = lastValueWins(fields)

	var subj subject
	rest := fields[:0]
	for _, f := range fields {
		if !subj.take(f) {
			rest = append(rest, f)
		}
	}

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	message := strings.TrimSpace(record.Message)
	if message == "" {
		message = "(no message)"
	}

	var buf bytes.Buffer
	buf.WriteString(formatTimestamp(ts))
	buf.WriteByte(' ')
	buf.WriteString(levelLabel(record.Level))
	subj.writeTo(&buf)
	buf.WriteString(" - ")
	buf.WriteString(message)

	shown := rest
	if record.Level >= slog.LevelInfo && len(shown) > consoleFieldLimit {
		shown = shown[:consoleFieldLimit]
	}
	for _, f := range shown {
		buf.WriteByte(' ')
		buf.WriteString(f.key)
		buf.WriteByte('=')
		buf.WriteString(formatValue(f.value))
	}
	if hidden := len(rest) - len(shown); hidden > 0 {
		buf.WriteString(" (+" + strconv.Itoa(hidden) + " more)")
	}
	if h.addSource {
		if src := record.Source(); src != nil && src.File != "" {
			buf.WriteString(" @" + filepath.Base(src.File) + ":" + strconv.Itoa(src.Line))
		}
	}
	buf.WriteByte('\n')

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	_, err := h.out.w.Write(buf.Bytes())
	return err
}

// subject collects the fields promoted into the line header.
type subject struct {
	component string
	device    string
	name      string
	job       string
}

func (s *subject) take(f field) bool {
	switch f.key {
	case FieldComponent:
		s.component = attrString(f.value)
	case FieldDevice:
		s.device = attrString(f.value)
	case FieldDeviceName:
		s.name = attrString(f.value)
	case FieldJobID:
		s.job = attrString(f.value)
	default:
		return false
	}
	return true
}

func (s subject) writeTo(buf *bytes.Buffer) {
	if s.component != "" {
		buf.WriteString(" [" + s.component + "]")
	}
	if s.device != "" {
		buf.WriteString(" " + s.device)
	}
	if s.name != "" {
		buf.WriteString(" " + s.name)
	}
	if job := s.job; job != "" {
		if len(job) > 8 {
			job = job[:8]
		}
		buf.WriteString(" (job " + job + ")")
	}
}

// appendField flattens groups into dotted keys.
func appendField(dst []field, prefix string, attr slog.Attr) []field {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return dst
	}
	if attr.Value.Kind() == slog.KindGroup {
		if attr.Key != "" {
			prefix += attr.Key + "."
		}
		for _, member := range attr.Value.Group() {
			dst = appendField(dst, prefix, member)
		}
		return dst
	}
	return append(dst, field{key: prefix + attr.Key, value: attr.Value})
}

// lastValueWins drops repeated keys in place, keeping the first position and
// the last value.
func lastValueWins(fields []field) []field {
	seen := make(map[string]int, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if f.key == "" {
			continue
		}
		if i, ok := seen[f.key]; ok {
			out[i].value = f.value
			continue
		}
		seen[f.key] = len(out)
		out = append(out, f)
	}
	return out
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	}
	return "DEBUG"
}
