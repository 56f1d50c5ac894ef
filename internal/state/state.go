package state

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/apptrack/internal/metrics"
	"github.com/loykin/apptrack/internal/procs"
	"github.com/loykin/apptrack/internal/store"
)

// State is the shared application state. Exported fields are what readers
// see through Selector; everything else is bookkeeping owned by the reducer.
type State struct {
	TrackedApps         []store.TrackLog
	UntrackedApps       []procs.ProcessInfo
	IsFetchingTracked   bool
	IsFetchingUntracked bool
	IsErrorTracked      bool
	IsErrorUntracked    bool
	Error               string

	trackedCh   <-chan fetchResult[[]store.TrackLog]
	untrackedCh <-chan fetchResult[[]procs.ProcessInfo]
	handles     map[string]Handle
	deleting    map[string]struct{}
}

type fetchResult[T any] struct {
	data T
	err  error
}

// Handle cancels one live tracker.
type Handle interface {
	Cancel()
	ID() string
}

// Starter launches a tracker for a process name and returns its handle.
// It must not block.
type Starter interface {
	StartTracker(processName string) Handle
}

// Options configures a Store.
type Options struct {
	Persist    store.Store
	Enumerator procs.Enumerator
	// Username owns new and fetched logs. Empty resolves the OS account.
	Username string
	Logger   *slog.Logger
}

// Store holds the single application State. The reducer is the only code
// that mutates it and always runs under mu. ioMu serializes writes to the
// persistence layer, which does no locking of its own.
type Store struct {
	mu    sync.Mutex
	state State

	ioMu sync.Mutex

	mwMu       sync.RWMutex
	middleware []Middleware
	starter    Starter

	persist  store.Store
	enum     procs.Enumerator
	username string
	log      *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// New returns a Store with persistence middleware installed.
func New(opts Options) *Store {
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}
	user := opts.Username
	if user == "" {
		user = procs.CurrentUsername()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		state: State{
			TrackedApps:   []store.TrackLog{},
			UntrackedApps: []procs.ProcessInfo{},
			handles:       make(map[string]Handle),
			deleting:      make(map[string]struct{}),
		},
		persist:  opts.Persist,
		enum:     opts.Enumerator,
		username: user,
		log:      l,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.middleware = []Middleware{persistMiddleware}
	return s
}

// SetStarter installs the tracker launcher used by AddTrackedApp and
// ResumeTracking. Without one, records are still created but nothing ticks.
func (s *Store) SetStarter(st Starter) {
	s.mu.Lock()
	s.starter = st
	s.mu.Unlock()
}

// Username returns the account new logs are attributed to.
func (s *Store) Username() string { return s.username }

// Selector returns a copy of the current state that shares nothing with it.
func (s *Store) Selector() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	out := State{
		TrackedApps:         make([]store.TrackLog, len(st.TrackedApps)),
		UntrackedApps:       append([]procs.ProcessInfo(nil), st.UntrackedApps...),
		IsFetchingTracked:   st.IsFetchingTracked,
		IsFetchingUntracked: st.IsFetchingUntracked,
		IsErrorTracked:      st.IsErrorTracked,
		IsErrorUntracked:    st.IsErrorUntracked,
		Error:               st.Error,
	}
	for i, l := range st.TrackedApps {
		out.TrackedApps[i] = l.Clone()
	}
	if out.UntrackedApps == nil {
		out.UntrackedApps = []procs.ProcessInfo{}
	}
	return out
}

// Lookup returns a copy of the log for processName.
func (s *Store) Lookup(processName string) (store.TrackLog, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := store.Find(s.state.TrackedApps, processName); i >= 0 {
		return s.state.TrackedApps[i].Clone(), true
	}
	return store.TrackLog{}, false
}

// IsAppTracked reports whether processName has a log in memory.
func (s *Store) IsAppTracked(processName string) bool {
	_, ok := s.Lookup(processName)
	return ok
}

// Process returns the entry for name in the latest process snapshot.
func (s *Store) Process(name string) (procs.ProcessInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return procs.Lookup(s.state.UntrackedApps, name)
}

// Alive reports whether name is present in the latest process snapshot.
// It never queries the OS.
func (s *Store) Alive(name string) bool {
	_, ok := s.Process(name)
	return ok
}

// HasTracker reports whether a tracker handle is held for processName.
func (s *Store) HasTracker(processName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state.handles[processName]
	return ok
}

// StopTrackers cancels every live tracker and forgets their handles.
// Logs keep their running flag; the next start resumes them.
func (s *Store) StopTrackers() {
	s.mu.Lock()
	hs := s.state.handles
	s.state.handles = make(map[string]Handle)
	s.mu.Unlock()
	for name, h := range hs {
		s.log.Debug("Cancelling tracker", "process", name, "session", h.ID())
		h.Cancel()
	}
}

// Close stops trackers and aborts background fetches.
func (s *Store) Close() {
	s.StopTrackers()
	s.cancel()
}

func (s *Store) enumerate(ctx context.Context) ([]procs.ProcessInfo, error) {
	if s.enum == nil {
		return []procs.ProcessInfo{}, nil
	}
	start := time.Now()
	list, err := s.enum.Processes(ctx)
	metrics.ObserveEnumerate(time.Since(start).Seconds())
	return list, err
}
