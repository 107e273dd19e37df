package delivery

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/ringtap/internal/sample"
)

// SessionLog is the complete record of one collection session.
type SessionLog struct {
	SessionID string
	DeviceID  string
	Label     string
	StartedAt time.Time
	EndedAt   time.Time
	Samples   []sample.Sample
}

// Exporter writes a session log to durable storage and returns where it went.
type Exporter interface {
	Format() string
	Export(ctx context.Context, log SessionLog) (string, error)
}

// ExportName builds a collision-resistant file name for a session export:
// ringtap_<label>_<UTC timestamp>_<random suffix>.<ext>
func ExportName(label string, at time.Time, ext string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("ringtap_%s_%s_%s.%s", slug(label), at.UTC().Format("20060102T150405.000Z"), suffix, ext)
}

// slug keeps label readable in a file name.
func slug(label string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '-' || r == '_' || r == ' ' || r == '.':
			sb.WriteByte('-')
		}
	}
	s := strings.Trim(sb.String(), "-")
	if s == "" {
		return "session"
	}
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}

func exportPath(dir string, log SessionLog, ext string) string {
	at := log.StartedAt
	if at.IsZero() {
		at = time.Now()
	}
	return filepath.Join(dir, ExportName(log.Label, at, ext))
}
