package state

import (
	"errors"

	"github.com/loykin/apptrack/internal/metrics"
	"github.com/loykin/apptrack/internal/store"
)

const (
	opSave   = "save"
	opDelete = "delete"
)

// persistMiddleware performs the file writes requested by SaveData,
// SaveAllData and DeleteTrackedApp. It holds ioMu across the whole
// read-modify-write and reads the record under ioMu, so a save that
// races a delete either lands before the delete or sees it pending.
func persistMiddleware(s *Store, a Action) []Action {
	if s.persist == nil {
		switch a := a.(type) {
		case DeleteTrackedApp:
			return []Action{appDeleted{processName: a.ProcessName}}
		}
		return nil
	}
	switch a := a.(type) {
	case SaveData:
		return failedActions(s.saveNames([]string{a.ProcessName}))
	case SaveAllData:
		return failedActions(s.saveNames(s.trackedNames()))
	case DeleteTrackedApp:
		s.ioMu.Lock()
		err := s.persist.Delete(s.ctx, a.ProcessName)
		s.ioMu.Unlock()
		if err != nil {
			metrics.IncPersistError(opDelete)
			s.log.Error("Failed to delete track log from file", "process", a.ProcessName, "error", err)
			return []Action{persistFailed{op: opDelete, processName: a.ProcessName, err: err}}
		}
		return []Action{appDeleted{processName: a.ProcessName}}
	}
	return nil
}

// Save writes processName, or every tracked app when it is empty, and
// returns the joined failures. Failures are reduced into State.Error too.
func (s *Store) Save(processName string) error {
	if s.persist == nil {
		return nil
	}
	names := []string{processName}
	if processName == "" {
		names = s.trackedNames()
	}
	var errs []error
	for _, f := range s.saveNames(names) {
		s.Dispatch(f)
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

func (s *Store) saveNames(names []string) []persistFailed {
	var failed []persistFailed
	for _, name := range names {
		if f := s.save(name); f != nil {
			failed = append(failed, *f)
		}
	}
	return failed
}

func failedActions(failed []persistFailed) []Action {
	out := make([]Action, 0, len(failed))
	for _, f := range failed {
		out = append(out, f)
	}
	return out
}

func (s *Store) save(processName string) *persistFailed {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	rec, ok := s.snapshotForSave(processName)
	if !ok {
		return nil
	}
	if err := s.persist.Save(s.ctx, rec); err != nil {
		metrics.IncPersistError(opSave)
		s.log.Error("Failed to save track log", "process", processName, "error", err)
		return &persistFailed{op: opSave, processName: processName, err: err}
	}
	s.log.Debug("Saved track log", "process", processName, "uptime", rec.Uptime)
	return nil
}

// snapshotForSave copies the record unless it is unknown or being deleted.
func (s *Store) snapshotForSave(processName string) (store.TrackLog, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, deleting := s.state.deleting[processName]; deleting {
		return store.TrackLog{}, false
	}
	i := store.Find(s.state.TrackedApps, processName)
	if i < 0 {
		s.log.Warn("Cannot save tracked progress; app not found", "process", processName)
		return store.TrackLog{}, false
	}
	return s.state.TrackedApps[i].Clone(), true
}

func (s *Store) trackedNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.state.TrackedApps))
	for _, l := range s.state.TrackedApps {
		names = append(names, l.ProcessName)
	}
	return names
}
