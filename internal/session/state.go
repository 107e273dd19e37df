package session

import (
	"time"

	"github.com/chaz8081/ringtap/internal/ble/protocol"
	"github.com/chaz8081/ringtap/internal/sample"
)

// State is the controller's position in the session lifecycle.
type State int

const (
	Idle State = iota + 1
	Connecting
	Armed
	Collecting
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Armed:
		return "armed"
	case Collecting:
		return "collecting"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Category groups errors for last-error bookkeeping. A category's error is
// cleared by the next success in the same category.
type Category string

const (
	CategoryConnect  Category = "connect"
	CategoryCollect  Category = "collect"
	CategoryDelivery Category = "delivery"
	CategoryExport   Category = "export"
)

type errEntry struct {
	msg string
	at  time.Time
}

// Snapshot is a read-only copy of the controller's observable state.
type Snapshot struct {
	State      State
	DeviceID   string // empty when no device is linked
	Collecting bool
	Samples    []sample.Sample
	Skipped    int  // frames that carried no reading
	ExportDue  bool // a disconnected session still awaits drain and export
	Battery    *protocol.Battery
	LastError  string
	Errors     map[Category]string
}

// Summary describes one finished collection session.
type Summary struct {
	SessionID string
	DeviceID  string
	Label     string
	StartedAt time.Time
	EndedAt   time.Time
	Samples   int
	Skipped   int
	Reason    string   // stopped, timer, disconnected
	Exports   []string // where the session log was written
	Err       error    // delivery and export failures, if any
}

// Forever, passed as a collection duration, arms no auto-stop timer.
const Forever = time.Duration(1<<63 - 1)
