package util

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(3) // debug level
	l.SetOutput(&buf)
	l.SetTimestamps(false)

	l.Error("e")
	l.Warn("w")
	l.Info("i")
	l.Verbose("v")
	l.Debug("d")

	output := buf.String()
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d:\n%s", len(lines), output)
	}

	wantPrefixes := []string{"ERR", "WRN", "INF", "DBG", "TRC"}
	for i, prefix := range wantPrefixes {
		if !strings.Contains(lines[i], prefix) {
			t.Errorf("line %d %q missing level %q", i, lines[i], prefix)
		}
	}
}

func TestLogger_QuietMode(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(0) // quiet
	l.SetOutput(&buf)
	l.SetTimestamps(false)

	l.Info("should not appear")
	l.Verbose("should not appear")
	l.Debug("should not appear")
	l.Error("always appears")

	output := buf.String()
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 1 {
		t.Errorf("expected 1 line in quiet mode, got %d:\n%s", len(lines), output)
	}
}

func TestLogger_SetLevelReachesDerived(t *testing.T) {
	var buf bytes.Buffer
	root := NewLogger(1)
	root.SetOutput(&buf)
	root.SetTimestamps(false)
	child := root.With("session", "abc")

	child.Verbose("hidden")
	if buf.Len() != 0 {
		t.Fatalf("verbose line leaked at level 1: %q", buf.String())
	}

	root.SetLevel(2)
	child.Verbose("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("derived logger did not pick up new level: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "session=abc") {
		t.Errorf("missing field: %q", buf.String())
	}
}

func TestLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(1)
	l.SetOutput(&buf)
	l.SetJSON(true)

	l.With("name", "Alice").Info("joined %d", 1)

	var rec map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("not JSON: %v (%q)", err, buf.String())
	}
	if rec["message"] != "joined 1" || rec["name"] != "Alice" || rec["level"] != "info" {
		t.Errorf("unexpected record: %v", rec)
	}
	if _, ok := rec["time"]; !ok {
		t.Error("JSON records should carry a timestamp")
	}
}

func TestLogger_Nil(t *testing.T) {
	var l *Logger
	// Should not panic.
	l.Info("x")
	l.Error("x")
	if l.With("k", "v") != nil {
		t.Error("With on nil logger should return nil")
	}
	if l.Level() != LogQuiet {
		t.Error("nil logger should report quiet")
	}
}

func TestBufPool_RoundTrip(t *testing.T) {
	buf := GetBuf()
	if buf == nil {
		t.Fatal("GetBuf returned nil")
	}
	if len(*buf) != DefaultBufSize {
		t.Errorf("buffer size = %d, want %d", len(*buf), DefaultBufSize)
	}

	// Write some data and return.
	(*buf)[0] = 0xFF
	PutBuf(buf)

	// Get another buffer, may or may not be the same one.
	buf2 := GetBuf()
	if buf2 == nil {
		t.Fatal("second GetBuf returned nil")
	}
	PutBuf(buf2)
}

func TestPutBuf_Nil(t *testing.T) {
	// Should not panic.
	PutBuf(nil)
}
