// Package keepalive keeps the host process awake while a collection session
// runs. Every implementation is best-effort: callers log failures and carry on.
package keepalive

import (
	"log/slog"
	"sync"
)

// Keepalive is held for the duration of a collection session.
type Keepalive interface {
	Start(id, title, body, channel string) error
	Stop() error
}

// Nop is used when no keepalive capability exists on this platform.
type Nop struct{}

func (Nop) Start(string, string, string, string) error { return nil }
func (Nop) Stop() error                                { return nil }

// Logger records start and stop without holding any system resource.
type Logger struct {
	mu     sync.Mutex
	active string
}

func (l *Logger) Start(id, title, body, channel string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = id
	slog.Info("[KEEPALIVE] holding", "id", id, "title", title, "body", body, "channel", channel)
	return nil
}

func (l *Logger) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == "" {
		return nil
	}
	slog.Info("[KEEPALIVE] released", "id", l.active)
	l.active = ""
	return nil
}

// Active returns the id passed to the last Start, or "" once stopped.
func (l *Logger) Active() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Compile-time interface satisfaction checks.
var (
	_ Keepalive = Nop{}
	_ Keepalive = (*Logger)(nil)
	_ Keepalive = (*Inhibitor)(nil)
)
