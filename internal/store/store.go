package store

import (
	"context"
	"errors"

	"github.com/loykin/apptrack/internal/badge"
)

// ErrEmptyPath is returned when a file store is created without a path.
var ErrEmptyPath = errors.New("empty stats file path")

// TrackLog is the persisted usage record of one tracked application.
// ProcessName is unique across the collection.
// Uptime is cumulative active time in seconds.
type TrackLog struct {
	Username    string        `json:"username"`
	Uptime      uint64        `json:"uptime"`
	Badges      []badge.Badge `json:"badges"`
	ProcessName string        `json:"process_name"`
	DisplayName string        `json:"display_name"`
	IsRunning   bool          `json:"is_running"`
}

// NewTrackLog returns a fresh record for a process that is currently running.
func NewTrackLog(username, processName, displayName string) TrackLog {
	if displayName == "" {
		displayName = processName
	}
	return TrackLog{
		Username:    username,
		Badges:      []badge.Badge{},
		ProcessName: processName,
		DisplayName: displayName,
		IsRunning:   true,
	}
}

// Name returns the label shown to users.
func (l TrackLog) Name() string {
	if l.DisplayName == "" {
		return l.ProcessName
	}
	return l.DisplayName
}

// Clone returns a copy that shares no slices with l.
func (l TrackLog) Clone() TrackLog {
	c := l
	c.Badges = append(make([]badge.Badge, 0, len(l.Badges)), l.Badges...)
	return c
}

// Store keeps the durable collection of track logs.
// Implementations do not lock; callers serialize writes.
type Store interface {
	Load(ctx context.Context) ([]TrackLog, error)
	Save(ctx context.Context, rec TrackLog) error
	Delete(ctx context.Context, processName string) error
}

// ByUser returns the logs owned by username, preserving order.
func ByUser(logs []TrackLog, username string) []TrackLog {
	out := make([]TrackLog, 0, len(logs))
	for _, l := range logs {
		if l.Username == username {
			out = append(out, l)
		}
	}
	return out
}

// Find returns the index of the log for processName, or -1.
func Find(logs []TrackLog, processName string) int {
	for i := range logs {
		if logs[i].ProcessName == processName {
			return i
		}
	}
	return -1
}

// merge applies rec onto logs. A matching entry takes the uptime, display
// name and badges of rec; otherwise rec is appended. Either way the stored
// entry is marked stopped: a saved snapshot is a checkpoint, not a live view.
func merge(logs []TrackLog, rec TrackLog) []TrackLog {
	if i := Find(logs, rec.ProcessName); i >= 0 {
		logs[i].Uptime = rec.Uptime
		logs[i].DisplayName = rec.DisplayName
		logs[i].Badges = rec.Clone().Badges
		logs[i].IsRunning = false
		return logs
	}
	c := rec.Clone()
	c.IsRunning = false
	return append(logs, c)
}

// remove drops every entry for processName.
func remove(logs []TrackLog, processName string) []TrackLog {
	out := logs[:0]
	for _, l := range logs {
		if l.ProcessName != processName {
			out = append(out, l)
		}
	}
	return out
}
