package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
)

func TestTeeHandlerCollapsesNilAndSingle(t *testing.T) {
	if _, ok := TeeHandler(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler when every handler is nil")
	}
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	if h := TeeHandler(nil, inner); h != inner {
		t.Fatal("expected lone handler to be returned unwrapped")
	}
}

func TestTeeHandlerRoutesByLevel(t *testing.T) {
	var consoleBuf, fileBuf bytes.Buffer
	console := slog.NewJSONHandler(&consoleBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	file := slog.NewJSONHandler(&fileBuf, &slog.HandlerOptions{Level: slog.LevelDebug})

	h := TeeHandler(console, file)
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected debug to be enabled through the file handler")
	}

	logger := slog.New(h)
	logger.Debug("listing chunk")
	if consoleBuf.Len() != 0 {
		t.Fatalf("console handler should not receive debug output: %s", consoleBuf.String())
	}
	if fileBuf.Len() == 0 {
		t.Fatal("file handler should receive debug output")
	}

	consoleBuf.Reset()
	fileBuf.Reset()
	logger.Info("transfer complete", slog.String("device", "usb:001,004"))
	for name, buf := range map[string]*bytes.Buffer{"console": &consoleBuf, "file": &fileBuf} {
		if !bytes.Contains(buf.Bytes(), []byte(`"usb:001,004"`)) {
			t.Fatalf("%s handler missing attribute: %s", name, buf.String())
		}
	}
}

func TestTeeHandlerPropagatesAttrsAndGroups(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	h := TeeHandler(slog.NewJSONHandler(&buf1, nil), slog.NewJSONHandler(&buf2, nil))

	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String(FieldComponent, "registry")}).WithGroup("stats"))
	logger.Info("refresh", slog.Int("added", 1))

	for _, buf := range []*bytes.Buffer{&buf1, &buf2} {
		if !bytes.Contains(buf.Bytes(), []byte(`"registry"`)) {
			t.Fatalf("expected component attr, got %s", buf.String())
		}
		if !bytes.Contains(buf.Bytes(), []byte(`"stats":{"added":1}`)) {
			t.Fatalf("expected grouped attr, got %s", buf.String())
		}
	}
}
