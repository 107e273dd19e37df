package keepalive

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
)

// Inhibitor holds an OS sleep inhibitor process for the session:
// caffeinate on macOS, systemd-inhibit on Linux.
type Inhibitor struct {
	// Command overrides the platform command. Empty means DefaultCommand.
	Command []string

	mu  sync.Mutex
	cmd *exec.Cmd
}

// DefaultCommand returns the sleep-inhibit command for this platform, or nil
// if none is known.
func DefaultCommand(title, body string) []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"caffeinate", "-i", "-w", strconv.Itoa(os.Getpid())}
	case "linux":
		return []string{"systemd-inhibit", "--what=sleep:idle", "--who=" + title, "--why=" + body, "--mode=block", "sleep", "infinity"}
	default:
		return nil
	}
}

// Start launches the inhibitor process. Calling Start while one is running
// is a no-op.
func (in *Inhibitor) Start(id, title, body, channel string) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.cmd != nil {
		return nil
	}

	args := in.Command
	if len(args) == 0 {
		args = DefaultCommand(title, body)
	}
	if len(args) == 0 {
		return fmt.Errorf("keepalive: no inhibitor available on %s", runtime.GOOS)
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return fmt.Errorf("keepalive: %s not found: %w", args[0], err)
	}

	cmd := exec.Command(args[0], args[1:]...) //nolint:gosec // args come from config or the platform default
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("keepalive: start %s: %w", args[0], err)
	}
	in.cmd = cmd
	slog.Debug("[KEEPALIVE] inhibitor started", "id", id, "channel", channel, "pid", cmd.Process.Pid)
	return nil
}

// Stop kills the inhibitor process and waits for it to exit.
func (in *Inhibitor) Stop() error {
	in.mu.Lock()
	cmd := in.cmd
	in.cmd = nil
	in.mu.Unlock()
	if cmd == nil {
		return nil
	}

	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("keepalive: kill inhibitor: %w", err)
	}
	_ = cmd.Wait()
	slog.Debug("[KEEPALIVE] inhibitor stopped")
	return nil
}

// Running reports whether an inhibitor process is held.
func (in *Inhibitor) Running() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.cmd != nil
}
