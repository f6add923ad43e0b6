package plotlod

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestNopHandlerDiscards(t *testing.T) {
	h := nopHandler{}
	ctx := context.Background()
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if h.Enabled(ctx, level) {
			t.Errorf("Enabled(%v) = true", level)
		}
	}
	if err := h.Handle(ctx, slog.Record{}); err != nil {
		t.Errorf("Handle() = %v", err)
	}
	if _, ok := h.WithAttrs([]slog.Attr{slog.Int("rows", 1)}).(nopHandler); !ok {
		t.Error("WithAttrs did not return a nopHandler")
	}
	if _, ok := h.WithGroup("plot").(nopHandler); !ok {
		t.Error("WithGroup did not return a nopHandler")
	}
}

func TestLoggerSilentByDefault(t *testing.T) {
	l := Logger()
	if l == nil {
		t.Fatal("Logger() = nil")
	}
	if l.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("default logger is enabled")
	}
}

func TestSetLogger(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var buf bytes.Buffer
	custom := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	SetLogger(custom)
	if Logger() != custom {
		t.Fatal("Logger() is not the logger passed to SetLogger")
	}
	Logger().Debug("mode switch", "to", "Aggregated")
	if !strings.Contains(buf.String(), "mode switch") {
		t.Errorf("log output = %q", buf.String())
	}

	SetLogger(nil)
	if l := Logger(); l == nil || l.Enabled(context.Background(), slog.LevelError) {
		t.Error("SetLogger(nil) did not restore the silent logger")
	}
}

func TestSetLoggerReachesRenderer(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})))

	r, dev := softRenderer(t, smallConfig())
	p := r.NewPlot(randomSeries(t, 50, 30))
	if _, err := r.Render(context.Background(), p, testViewport); err != nil {
		t.Fatal(err)
	}
	dev.SimulateLoss()
	if _, err := r.Render(context.Background(), p, testViewport); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if !strings.Contains(out, "device lost") {
		t.Errorf("device loss was not logged: %q", out)
	}
	// The gpu package logs its recovery through the same logger.
	if !strings.Contains(out, "buffers dropped") {
		t.Errorf("gpu package did not use the configured logger: %q", out)
	}
}

func TestLoggerConcurrentAccess(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			Logger().Debug("render")
		}()
		go func() {
			defer wg.Done()
			SetLogger(slog.Default())
			SetLogger(nil)
		}()
	}
	wg.Wait()
}

func TestRenderLogsRejectedViewport(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})))

	r := newTestRenderer(t, smallConfig())
	p := r.NewPlot(randomSeries(t, 50, 31))
	bad := testViewport
	bad.MaxX = bad.MinX

	if _, err := r.Render(context.Background(), p, bad); err == nil {
		t.Fatal("Render of an empty viewport succeeded")
	}
	if out := buf.String(); !strings.Contains(out, "render rejected") || !strings.Contains(out, p.ID()) {
		t.Errorf("rejected render was not logged: %q", out)
	}

	buf.Reset()
	if _, err := r.RenderLine(context.Background(), p, bad); err == nil {
		t.Fatal("RenderLine of an empty viewport succeeded")
	}
	if !strings.Contains(buf.String(), "line render rejected") {
		t.Errorf("rejected line render was not logged: %q", buf.String())
	}
}
