package state

import (
	"fmt"

	"github.com/loykin/apptrack/internal/badge"
	"github.com/loykin/apptrack/internal/procs"
)

// Action is a request to change application state. Actions are applied by
// the reducer, one at a time, under the store lock.
type Action interface {
	Kind() string
}

// FetchTrackedApps starts loading persisted logs, or polls a load in flight.
type FetchTrackedApps struct{}

// FetchUntrackedApps starts enumerating processes, or polls an enumeration in flight.
type FetchUntrackedApps struct{}

// QueryUntrackedApps refreshes the process snapshot synchronously.
// An enumeration failure leaves an empty snapshot.
type QueryUntrackedApps struct{}

// AddTrackedApp starts tracking ProcessName. An empty Username means the
// store's resolved user.
type AddTrackedApp struct {
	Username    string
	ProcessName string
}

// DeleteTrackedApp stops tracking ProcessName and removes its log from disk
// and, once that succeeded, from memory.
type DeleteTrackedApp struct{ ProcessName string }

// ChangeTrackedAppName sets the display name of a tracked app.
type ChangeTrackedAppName struct {
	ProcessName string
	DisplayName string
}

// AddBadgeToProc awards Badge unless a badge of the same rank is present.
type AddBadgeToProc struct {
	Badge       badge.Badge
	ProcessName string
}

// UpdateAppTime sets the absolute uptime of a tracked app.
type UpdateAppTime struct {
	ProcessName string
	Seconds     uint64
}

// PauseTracking marks an app stopped and drops its tracker handle.
// A non-empty Session names the tracker asking to pause; the action is
// ignored when another tracker session has since taken over the app.
type PauseTracking struct {
	ProcessName string
	Session     string
}

// ResumeTracking starts a new tracker for an already tracked app.
type ResumeTracking struct{ ProcessName string }

// SaveData persists one tracked app.
type SaveData struct{ ProcessName string }

// SaveAllData persists every tracked app.
type SaveAllData struct{}

// CleanErrorMsg clears State.Error.
type CleanErrorMsg struct{}

func (FetchTrackedApps) Kind() string     { return "FetchTrackedApps" }
func (FetchUntrackedApps) Kind() string   { return "FetchUntrackedApps" }
func (QueryUntrackedApps) Kind() string   { return "QueryUntrackedApps" }
func (AddTrackedApp) Kind() string        { return "AddTrackedApp" }
func (DeleteTrackedApp) Kind() string     { return "DeleteTrackedApp" }
func (ChangeTrackedAppName) Kind() string { return "ChangeTrackedAppName" }
func (AddBadgeToProc) Kind() string       { return "AddBadgeToProc" }
func (UpdateAppTime) Kind() string        { return "UpdateAppTime" }
func (PauseTracking) Kind() string        { return "PauseTracking" }
func (ResumeTracking) Kind() string       { return "ResumeTracking" }
func (SaveData) Kind() string             { return "SaveData" }
func (SaveAllData) Kind() string          { return "SaveAllData" }
func (CleanErrorMsg) Kind() string        { return "CleanErrorMsg" }

// Follow-up actions produced by the store itself.

type untrackedQueried struct{ procs []procs.ProcessInfo }

type appDeleted struct{ processName string }

type persistFailed struct {
	op          string
	processName string
	err         error
}

func (untrackedQueried) Kind() string { return "untrackedQueried" }
func (appDeleted) Kind() string       { return "appDeleted" }
func (persistFailed) Kind() string    { return "persistFailed" }

func (f persistFailed) Error() string {
	return fmt.Sprintf("could not %s %s: %v", f.op, f.processName, f.err)
}

func (f persistFailed) Unwrap() error { return f.err }

// preparer is implemented by actions that need blocking work before they
// can be reduced. Dispatch runs prepare outside the store lock and reduces
// the returned action instead.
type preparer interface {
	prepare(s *Store) Action
}

func (QueryUntrackedApps) prepare(s *Store) Action {
	list, err := s.enumerate(s.ctx)
	if err != nil {
		s.log.Debug("Process query failed", "error", err)
		list = []procs.ProcessInfo{}
	}
	return untrackedQueried{procs: list}
}
