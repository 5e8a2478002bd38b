package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	stateDirName     = ".assetlock"
	instanceLockName = "agent.lock"
)

// ErrAlreadyRunning is returned when another agent owns the working copy.
var ErrAlreadyRunning = errors.New("agent already running for this working copy")

// instanceLock keeps one agent per working copy using an OS file lock.
// The lock is released automatically when the process exits.
type instanceLock struct {
	path string
	file *os.File
}

func newInstanceLock(root string) *instanceLock {
	return &instanceLock{path: filepath.Join(root, stateDirName, instanceLockName)}
}

// acquire takes the lock without waiting.
func (l *instanceLock) acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	l.file = f

	if err := l.tryLock(); err != nil {
		holder := l.readHolder()
		l.file.Close()
		l.file = nil
		return fmt.Errorf("%w (holder %s)", ErrAlreadyRunning, holder)
	}
	l.writeHolder()
	return nil
}

func (l *instanceLock) release() {
	if l.file == nil {
		return
	}
	l.file.Truncate(0)
	l.unlock()
	l.file.Close()
	l.file = nil
}

// writeHolder records the owning process for diagnostics.
func (l *instanceLock) writeHolder() {
	l.file.Truncate(0)
	l.file.Seek(0, 0)
	fmt.Fprintf(l.file, "pid:%d\ntime:%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	l.file.Sync()
}

func (l *instanceLock) readHolder() string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return "unknown"
	}
	var pid, ts string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		switch {
		case strings.HasPrefix(line, "pid:"):
			pid = strings.TrimPrefix(line, "pid:")
		case strings.HasPrefix(line, "time:"):
			ts = strings.TrimPrefix(line, "time:")
		}
	}
	if pid == "" {
		return "unknown"
	}
	if n, err := strconv.Atoi(pid); err == nil && !isProcessAlive(n) {
		return fmt.Sprintf("pid:%s since %s (STALE - process dead)", pid, ts)
	}
	return fmt.Sprintf("pid:%s since %s", pid, ts)
}
