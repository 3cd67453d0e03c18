package logger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/oppo-bigdata/foundationdb/logger"
)

type testOutlet struct {
	record []logger.Entry
}

func (o *testOutlet) WriteEntry(ctx context.Context, entry logger.Entry) error {
	o.record = append(o.record, entry)
	return nil
}

func TestLoggerBasic(t *testing.T) {
	a, b := &testOutlet{}, &testOutlet{}
	outlets := logger.NewOutlets()
	outlets.Add(a, logger.Debug)
	outlets.Add(b, logger.Warn)

	l := logger.NewLogger(outlets, time.Second)
	l.Info("foobar")
	l.WithField("fieldname", "fieldval").Info("log with field")
	l.WithError(fmt.Errorf("fooerror")).Error("error")

	if len(a.record) != 3 {
		t.Fatalf("outlet registered at Debug should see all 3 entries, got %d", len(a.record))
	}
	if len(b.record) != 1 {
		t.Fatalf("outlet registered at Warn should see only the Error entry, got %d", len(b.record))
	}
	if a.record[1].Fields["fieldname"] != "fieldval" {
		t.Fatalf("expected fieldname to be carried on the entry")
	}
}

func TestNullLoggerIsSilent(t *testing.T) {
	l := logger.NewNullLogger()
	l.WithField("x", 1).Info("should go nowhere")
}
