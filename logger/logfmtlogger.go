package logger

import (
	"context"
	"io"
	"sort"

	"github.com/go-logfmt/logfmt"
)

// logfmtOutlet writes entries as logfmt key=value pairs, one line per entry.
// Unlike stderrLoggerOutlet's %#v dump, this is meant for outlets that feed a
// log aggregator expecting a stable, greppable line format.
type logfmtOutlet struct {
	w io.Writer
}

// NewLogfmtOutlet returns an Outlet that encodes entries as logfmt onto w.
// Field order is: ts, level, msg, then user fields sorted by key, so two
// entries with the same fields always produce byte-identical lines.
func NewLogfmtOutlet(w io.Writer) Outlet {
	return &logfmtOutlet{w: w}
}

func (o *logfmtOutlet) WriteEntry(ctx context.Context, entry Entry) error {
	enc := logfmt.NewEncoder(o.w)

	if err := enc.EncodeKeyval("ts", entry.Time.Format("2006-01-02T15:04:05.000Z07:00")); err != nil {
		return err
	}
	if err := enc.EncodeKeyval("level", entry.Level.String()); err != nil {
		return err
	}
	if err := enc.EncodeKeyval("msg", entry.Message); err != nil {
		return err
	}

	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := enc.EncodeKeyval(k, entry.Fields[k]); err != nil {
			return err
		}
	}

	return enc.EndRecord()
}

// NewLogfmtLogger returns a Logger that writes every entry, Debug and above,
// as logfmt to w.
func NewLogfmtLogger(w io.Writer) *Logger {
	outlets := NewOutlets()
	outlets.Add(NewLogfmtOutlet(w), Debug)
	return NewLogger(outlets, 100)
}
