package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerWritesLevelAndPairs(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, "Processor")
	l.Info("page done", "page", 3, "records", 12)

	line := buf.String()
	for _, want := range []string{"[Processor] ", "[INFO] page done", " page=3", " records=12"} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %q", line, want)
		}
	}
}

func TestLoggerWithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewLoggerTo(&buf, "Queue")
	child := base.With("job", "abc")
	child.Warn("retrying", "attempt", 2)
	base.Error("plain")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], "job=abc attempt=2") {
		t.Errorf("child line %q missing inherited fields", lines[0])
	}
	if strings.Contains(lines[1], "job=abc") {
		t.Errorf("parent line %q picked up child fields", lines[1])
	}
}

func TestLoggerDropsDanglingKey(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerTo(&buf, "X").Debug("msg", "lonely")
	if strings.Contains(buf.String(), "lonely") {
		t.Errorf("dangling key should be dropped: %q", buf.String())
	}
}
