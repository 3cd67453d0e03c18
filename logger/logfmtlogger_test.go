package logger_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/oppo-bigdata/foundationdb/logger"
)

func TestLogfmtOutletFieldOrderAndContent(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewLogfmtLogger(&buf)

	l.WithField("b", "2").WithField("a", "1").Info("hello")

	line := strings.TrimRight(buf.String(), "\n")
	fields := strings.Fields(line)
	if len(fields) < 5 {
		t.Fatalf("expected at least 5 keyval pairs, got %q", line)
	}

	wantPrefixes := []string{"ts=", "level=info", "msg=hello", "a=1", "b=2"}
	for i, want := range wantPrefixes {
		if !strings.HasPrefix(fields[i], want) {
			t.Fatalf("field %d: got %q, want prefix %q in line %q", i, fields[i], want, line)
		}
	}
}
