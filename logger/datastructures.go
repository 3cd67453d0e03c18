package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/pkg/errors"
	"time"
)

type Level int

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(input []byte) (err error) {
	var s string
	if err = json.Unmarshal(input, &s); err != nil {
		return err
	}
	*l, err = ParseLevel(s)
	return err
}

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) Short() string {
	switch l {
	case Debug:
		return "DEBG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERRO"
	default:
		return fmt.Sprintf("%s", l)
	}
}

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("%d", int(l))
	}
}

func ParseLevel(s string) (l Level, err error) {
	for _, l := range AllLevels {
		if s == l.String() {
			return l, nil
		}
	}
	return -1, errors.Errorf("unknown level '%s'", s)
}

// Levels ordered least severe to most severe
var AllLevels []Level = []Level{Debug, Info, Warn, Error}

type Fields map[string]interface{}

type Entry struct {
	Level   Level
	Message string
	Time    time.Time
	Fields  Fields
}

// An outlet receives log entries produced by the Logger and writes them to some destination.
type Outlet interface {
	// Write the entry to the destination.
	//
	// Logger waits for all outlets to return from WriteEntry() before returning from the log call.
	// An implementation of Outlet must assert that it does not block in WriteEntry.
	// Otherwise, it will slow down the program.
	//
	// Note: os.Stderr is also used by logger.Logger for reporting errors returned by outlets
	//       => you probably don't want to log there
	WriteEntry(ctx context.Context, entry Entry) error
}

// Outlets maps each Level to the Outlets that should receive entries logged
// at that level or above. A Logger's Outlets is set once at construction and
// never mutated afterwards (WithField/WithFields/WithError share the same
// map across the whole family of derived Loggers), so no locking is needed
// here; Add is only ever called while building up the Outlets before the
// first Logger is constructed from it.
type Outlets map[Level][]Outlet

func NewOutlets() Outlets {
	return make(Outlets, len(AllLevels))
}

func (os Outlets) DeepCopy() (copy Outlets) {
	copy = NewOutlets()
	for level := range os {
		for i := range os[level] {
			copy[level] = append(copy[level], os[level][i])
		}
	}
	return copy
}

func (os Outlets) Add(outlet Outlet, minLevel Level) {
	for _, l := range AllLevels[minLevel:] {
		os[l] = append(os[l], outlet)
	}
}

func (os Outlets) Get(level Level) []Outlet {
	return os[level]
}

// Return the first outlet added to this Outlets list using Add()
// with minLevel <= Error.
// If no such outlet is in this Outlets list, a discarding outlet is returned.
func (os Outlets) GetLoggerErrorOutlet() Outlet {
	if len(os[Error]) < 1 {
		return nullOutlet{}
	}
	return os[Error][0]
}

type nullOutlet struct{}

func (nullOutlet) WriteEntry(ctx context.Context, entry Entry) error { return nil }
