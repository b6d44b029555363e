package agent

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConversationLoggerWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	globalPath := filepath.Join(dir, "global", "all.ndjson")
	logger, err := NewConversationLogger(ConversationLogConfig{
		Enabled:       true,
		Dir:           dir,
		GlobalEnabled: true,
		GlobalPath:    globalPath,
		QueueSize:     16,
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	event := ConversationLogEvent{
		SessionID:  "sess-1",
		TraceID:    "trace-1",
		Channel:    "chat_http",
		Direction:  "inbound",
		EventType:  "chat_user_message",
		ContentRaw: "please \x1b[1mgenerate\x1b[0m my CV",
	}
	logger.Log(event)

	line := waitForLogLine(t, filepath.Join(dir, "sess-1.ndjson"))
	var got ConversationLogEvent
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.TraceID != "trace-1" {
		t.Fatalf("unexpected TraceID: %q", got.TraceID)
	}
	if got.Content != "please generate my CV" {
		t.Fatalf("expected cleaned content, got %q", got.Content)
	}
	if got.Timestamp == "" {
		t.Fatal("expected timestamp to be populated")
	}
	waitForLogLine(t, globalPath)
}

func TestDisabledConversationLoggerIsNoop(t *testing.T) {
	t.Parallel()

	logger, err := NewConversationLogger(ConversationLogConfig{}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	logger.Log(ConversationLogEvent{SessionID: "x"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestCleanForReadabilityStripsANSI(t *testing.T) {
	t.Parallel()

	raw := "\x1b[31merror\x1b[0m plain\x07\n\n\n\nnext"
	clean := cleanForReadability(raw)
	if strings.Contains(clean, "\x1b[31m") || strings.Contains(clean, "\x07") {
		t.Fatalf("expected escape sequences to be stripped: %q", clean)
	}
	if clean != "error plain\n\nnext" {
		t.Fatalf("unexpected cleaned text: %q", clean)
	}
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) > 0 {
				return lines[len(lines)-1]
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log file %s", path)
	return ""
}
