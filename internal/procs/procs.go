package procs

import (
	"context"
	"errors"
	"time"
)

// ErrNoProcesses is returned when the OS process table could not be read
// for any process, usually because of missing privileges.
var ErrNoProcesses = errors.New("no process could be opened; try running with elevated rights")

// GuestUsername is used when the current account cannot be resolved.
const GuestUsername = "Guest"

// ProcessInfo is one entry of a process table snapshot.
// StartedAt is zero when the OS did not report a creation time.
type ProcessInfo struct {
	Name      string    `json:"name"`
	PID       int32     `json:"pid"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Elapsed returns how long the process has been running at now, or zero if
// the start time is unknown.
func (p ProcessInfo) Elapsed(now time.Time) time.Duration {
	if p.StartedAt.IsZero() || now.Before(p.StartedAt) {
		return 0
	}
	return now.Sub(p.StartedAt)
}

// Enumerator lists running processes. It must be safe for concurrent use.
type Enumerator interface {
	Processes(ctx context.Context) ([]ProcessInfo, error)
}

// Contains reports whether a process named name is in list.
func Contains(list []ProcessInfo, name string) bool {
	_, ok := Lookup(list, name)
	return ok
}

// Lookup returns the first process named name.
func Lookup(list []ProcessInfo, name string) (ProcessInfo, bool) {
	for _, p := range list {
		if p.Name == name {
			return p, true
		}
	}
	return ProcessInfo{}, false
}
