package app

import (
	"bytes"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
}

func TestVisualLen(t *testing.T) {
	t.Parallel()

	if got := visualLen(ansiGreen + "héllo" + ansiReset); got != 5 {
		t.Fatalf("visualLen=%d want 5", got)
	}
}

func TestPrettyHandler_PlainOutput(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "debug", LogFormatPretty, false)

	log.Info("http.request",
		"method", "post",
		"status", 404,
		"status_class", "4xx",
		"duration_ms", int64(12),
		"note", "has space",
		"evil", "\x1b[31mred\x1b[0m",
	)

	line := buf.String()
	for _, want := range []string{
		"lvl=[INFO]",
		"msg=http.request",
		"method=POST",
		"status=404",
		"class=4xx",
		"duration=12ms",
		`note="has space"`,
		"evil=red",
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("missing %q in %q", want, line)
		}
	}
	if strings.Contains(line, "\x1b") {
		t.Fatalf("plain output must not contain escape codes: %q", line)
	}
}

func TestPrettyHandler_ColorOutput(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "info", LogFormatPretty, true)
	log.Error("server.fail", "status", 503)

	line := buf.String()
	if !strings.Contains(line, ansiRed+"[ERROR]"+ansiReset) {
		t.Fatalf("expected red error tag in %q", line)
	}
	if !strings.Contains(line, ansiRed+"503"+ansiReset) {
		t.Fatalf("expected red status in %q", line)
	}
}

func TestPrettyHandler_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "warn", LogFormatPretty, false)
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level: %q", buf.String())
	}
}
