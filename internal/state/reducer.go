package state

import (
	"fmt"

	"github.com/loykin/apptrack/internal/badge"
	"github.com/loykin/apptrack/internal/metrics"
	"github.com/loykin/apptrack/internal/procs"
	"github.com/loykin/apptrack/internal/store"
)

// reduce applies a to s.state. Callers hold s.mu. It must not block: slow
// work is either spawned or left to middleware.
func (s *Store) reduce(a Action) {
	st := &s.state
	switch a := a.(type) {
	case FetchTrackedApps:
		s.reduceFetchTracked(st)
	case FetchUntrackedApps:
		s.reduceFetchUntracked(st)
	case untrackedQueried:
		st.UntrackedApps = a.procs
	case AddTrackedApp:
		if store.Find(st.TrackedApps, a.ProcessName) >= 0 {
			s.log.Debug("App already tracked", "process", a.ProcessName)
			return
		}
		user := a.Username
		if user == "" {
			user = s.username
		}
		st.TrackedApps = append(st.TrackedApps, store.NewTrackLog(user, a.ProcessName, a.ProcessName))
		s.startTracker(st, a.ProcessName)
		metrics.SetRunning(a.ProcessName, true)
		s.log.Info("Started tracking", "process", a.ProcessName, "user", user)
	case DeleteTrackedApp:
		if h, ok := st.handles[a.ProcessName]; ok {
			h.Cancel()
			delete(st.handles, a.ProcessName)
		}
		st.deleting[a.ProcessName] = struct{}{}
	case appDeleted:
		delete(st.deleting, a.processName)
		if i := store.Find(st.TrackedApps, a.processName); i >= 0 {
			st.TrackedApps = append(st.TrackedApps[:i], st.TrackedApps[i+1:]...)
		}
		metrics.Forget(a.processName)
		s.log.Info("Stopped tracking", "process", a.processName)
	case persistFailed:
		st.Error = a.Error()
		if a.op == opDelete {
			delete(st.deleting, a.processName)
			// the old tracker is cancelled; restart one if the process still runs
			if l := s.find(st, a.processName); l != nil {
				l.IsRunning = procs.Contains(st.UntrackedApps, a.processName)
				if l.IsRunning {
					if _, live := st.handles[a.processName]; !live {
						s.startTracker(st, a.processName)
					}
				}
				metrics.SetRunning(a.processName, l.IsRunning)
			}
		}
	case ChangeTrackedAppName:
		l := s.find(st, a.ProcessName)
		if l == nil {
			s.log.Warn("Cannot change display name; app not found", "process", a.ProcessName)
			return
		}
		l.DisplayName = a.DisplayName
		if l.DisplayName == "" {
			l.DisplayName = l.ProcessName
		}
	case AddBadgeToProc:
		l := s.find(st, a.ProcessName)
		if l == nil {
			s.log.Warn("Cannot add badge; app not found", "process", a.ProcessName, "rank", a.Badge.Rank)
			return
		}
		if badge.Contains(l.Badges, a.Badge.Rank) {
			return
		}
		l.Badges = append(l.Badges, a.Badge)
		metrics.IncBadge(a.Badge.Rank.String())
		s.log.Info("Badge earned", "process", a.ProcessName, "rank", a.Badge.Rank)
	case UpdateAppTime:
		l := s.find(st, a.ProcessName)
		if l == nil {
			s.log.Warn("Cannot update uptime; app not found", "process", a.ProcessName)
			return
		}
		l.Uptime = a.Seconds
		metrics.SetUptime(a.ProcessName, a.Seconds)
	case PauseTracking:
		if h, ok := st.handles[a.ProcessName]; ok && a.Session != "" && h.ID() != a.Session {
			s.log.Debug("Ignoring pause from stale tracker", "process", a.ProcessName, "session", a.Session)
			return
		}
		if h, ok := st.handles[a.ProcessName]; ok {
			h.Cancel()
			delete(st.handles, a.ProcessName)
		}
		if l := s.find(st, a.ProcessName); l != nil {
			l.IsRunning = false
		}
		metrics.SetRunning(a.ProcessName, false)
		s.log.Info("Paused tracking", "process", a.ProcessName)
	case ResumeTracking:
		l := s.find(st, a.ProcessName)
		if l == nil {
			s.log.Warn("Cannot resume; app not found", "process", a.ProcessName)
			return
		}
		if _, deleting := st.deleting[a.ProcessName]; deleting {
			return
		}
		l.IsRunning = true
		if _, live := st.handles[a.ProcessName]; !live {
			s.startTracker(st, a.ProcessName)
		}
		metrics.SetRunning(a.ProcessName, true)
		s.log.Info("Resumed tracking", "process", a.ProcessName)
	case SaveData, SaveAllData, QueryUntrackedApps:
		// handled by persistMiddleware and prepare
	case CleanErrorMsg:
		st.Error = ""
	default:
		s.log.Warn("Unknown action", "kind", a.Kind())
	}
}

// find returns a pointer into st.TrackedApps. It must not outlive the
// current reduction.
func (s *Store) find(st *State, processName string) *store.TrackLog {
	if i := store.Find(st.TrackedApps, processName); i >= 0 {
		return &st.TrackedApps[i]
	}
	return nil
}

func (s *Store) startTracker(st *State, processName string) {
	if s.starter == nil {
		return
	}
	st.handles[processName] = s.starter.StartTracker(processName)
}

func (s *Store) reduceFetchTracked(st *State) {
	if !st.IsFetchingTracked {
		ch := make(chan fetchResult[[]store.TrackLog], 1)
		st.trackedCh = ch
		st.IsFetchingTracked = true
		st.IsErrorTracked = false
		ctx, persist, user := s.ctx, s.persist, s.username
		go func() {
			if persist == nil {
				ch <- fetchResult[[]store.TrackLog]{data: []store.TrackLog{}}
				return
			}
			logs, err := persist.Load(ctx)
			if err == nil {
				logs = store.ByUser(logs, user)
			}
			ch <- fetchResult[[]store.TrackLog]{data: logs, err: err}
		}()
		return
	}
	select {
	case r := <-st.trackedCh:
		st.trackedCh = nil
		st.IsFetchingTracked = false
		if r.err != nil {
			st.IsErrorTracked = true
			st.Error = fmt.Sprintf("could not load tracked apps: %v", r.err)
			s.log.Error("Loading tracked apps failed", "error", r.err)
			return
		}
		st.IsErrorTracked = false
		st.TrackedApps = s.mergeFetched(st, r.data)
	default:
	}
}

// mergeFetched replaces the tracked list with loaded logs. No tracker is
// alive for a freshly loaded log, so it starts out stopped; logs whose
// tracker is already running keep their in-memory copy.
func (s *Store) mergeFetched(st *State, loaded []store.TrackLog) []store.TrackLog {
	out := make([]store.TrackLog, 0, len(loaded))
	for _, l := range loaded {
		if store.Find(out, l.ProcessName) >= 0 {
			continue
		}
		if _, live := st.handles[l.ProcessName]; live {
			if cur := s.find(st, l.ProcessName); cur != nil {
				out = append(out, cur.Clone())
				continue
			}
		}
		l.IsRunning = false
		out = append(out, l)
		metrics.SetUptime(l.ProcessName, l.Uptime)
		metrics.SetRunning(l.ProcessName, false)
	}
	for _, cur := range st.TrackedApps {
		if _, live := st.handles[cur.ProcessName]; live && store.Find(out, cur.ProcessName) < 0 {
			out = append(out, cur)
		}
	}
	return out
}

func (s *Store) reduceFetchUntracked(st *State) {
	if !st.IsFetchingUntracked {
		ch := make(chan fetchResult[[]procs.ProcessInfo], 1)
		st.untrackedCh = ch
		st.IsFetchingUntracked = true
		st.IsErrorUntracked = false
		ctx := s.ctx
		go func() {
			list, err := s.enumerate(ctx)
			ch <- fetchResult[[]procs.ProcessInfo]{data: list, err: err}
		}()
		return
	}
	select {
	case r := <-st.untrackedCh:
		st.untrackedCh = nil
		st.IsFetchingUntracked = false
		if r.err != nil {
			st.IsErrorUntracked = true
			st.Error = fmt.Sprintf("could not list running processes: %v", r.err)
			s.log.Error("Listing processes failed", "error", r.err)
			return
		}
		st.IsErrorUntracked = false
		st.UntrackedApps = r.data
	default:
	}
}
