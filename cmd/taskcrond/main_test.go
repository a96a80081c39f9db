package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"taskcron/internal/config"
	"taskcron/internal/notify"
)

func TestBuildNotifier(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if n := buildNotifier(config.NotificationConfig{}, logger); n != nil {
		t.Fatalf("notifier without channels = %T, want nil", n)
	}

	cfg := config.NotificationConfig{
		Bark:      config.BarkConfig{URL: "https://bark.example/key", Enabled: true},
		PerMinute: 6,
	}
	if _, ok := buildNotifier(cfg, logger).(*notify.Throttled); !ok {
		t.Fatal("expected a throttled notifier")
	}

	cfg.PerMinute = 0
	multi, ok := buildNotifier(cfg, logger).(*notify.MultiNotifier)
	if !ok || multi.Len() != 1 {
		t.Fatalf("expected one unthrottled channel, got %#v", multi)
	}

	cfg.Bark = config.BarkConfig{Enabled: true}
	if n := buildNotifier(cfg, logger); n != nil {
		t.Fatalf("notifier with an unusable bark url = %T, want nil", n)
	}
}

type nopNotifier struct{}

func (nopNotifier) Send(ctx context.Context, title, body string) error { return nil }

func TestLogSuppressed(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	th := notify.NewThrottled(nopNotifier{}, 1)
	logSuppressed(th, logger)
	if buf.Len() != 0 {
		t.Fatalf("logged without drops: %s", buf.String())
	}

	for i := 0; i < 3; i++ {
		_ = th.Send(context.Background(), "t", "b")
	}
	logSuppressed(th, logger)
	if !strings.Contains(buf.String(), "dropped=2") {
		t.Fatalf("log = %q, want dropped=2", buf.String())
	}

	logSuppressed(nil, logger)
}
