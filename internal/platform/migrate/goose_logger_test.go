package migrate

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestGooseLoggerPrintfWritesThroughSlog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	gooseSlogLogger{logger: logger}.Printf("OK   %s (%s)\n", "00001_create_users.sql", "1ms")

	out := buf.String()
	if !strings.Contains(out, "00001_create_users.sql") {
		t.Fatalf("expected migration name in output, got %q", out)
	}
	if !strings.Contains(out, "component=goose") {
		t.Fatalf("expected component attribute, got %q", out)
	}
}

func TestGooseLoggerPrintfWithoutLogger(t *testing.T) {
	gooseSlogLogger{}.Printf("ignored %d", 1)
}
