package state

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/apptrack/internal/badge"
	"github.com/loykin/apptrack/internal/procs"
	"github.com/loykin/apptrack/internal/store"
)

type fakeEnum struct {
	mu   sync.Mutex
	list []procs.ProcessInfo
	err  error
}

func (f *fakeEnum) Processes(context.Context) ([]procs.ProcessInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]procs.ProcessInfo(nil), f.list...), nil
}

func (f *fakeEnum) set(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.list = f.list[:0]
	for i, n := range names {
		f.list = append(f.list, procs.ProcessInfo{Name: n, PID: int32(100 + i)})
	}
}

type fakeHandle struct {
	id        string
	cancelled atomic.Bool
}

func (h *fakeHandle) Cancel()    { h.cancelled.Store(true) }
func (h *fakeHandle) ID() string { return h.id }

type fakeStarter struct {
	mu      sync.Mutex
	started []*fakeHandle
	names   []string
}

func (f *fakeStarter) StartTracker(name string) Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &fakeHandle{id: name}
	f.started = append(f.started, h)
	f.names = append(f.names, name)
	return h
}

func (f *fakeStarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

func (f *fakeStarter) last() *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started[len(f.started)-1]
}

// failingStore wraps a Store and fails selected operations.
type failingStore struct {
	store.Store
	failSave   bool
	failDelete bool
	failLoad   bool
}

func (f *failingStore) Load(ctx context.Context) ([]store.TrackLog, error) {
	if f.failLoad {
		return nil, errors.New("disk on fire")
	}
	return f.Store.Load(ctx)
}

func (f *failingStore) Save(ctx context.Context, rec store.TrackLog) error {
	if f.failSave {
		return errors.New("disk full")
	}
	return f.Store.Save(ctx, rec)
}

func (f *failingStore) Delete(ctx context.Context, name string) error {
	if f.failDelete {
		return errors.New("read-only")
	}
	return f.Store.Delete(ctx, name)
}

func newFileStore(t *testing.T) *store.File {
	t.Helper()
	fs, err := store.NewFile(filepath.Join(t.TempDir(), "stats.json"))
	require.NoError(t, err)
	return fs
}

func newTestStore(t *testing.T, persist store.Store, enum procs.Enumerator) (*Store, *fakeStarter) {
	t.Helper()
	s := New(Options{Persist: persist, Enumerator: enum, Username: "alice"})
	st := &fakeStarter{}
	s.SetStarter(st)
	t.Cleanup(s.Close)
	return s, st
}

func TestAddTrackedApp_Idempotent(t *testing.T) {
	s, starter := newTestStore(t, newFileStore(t), &fakeEnum{})
	s.Dispatch(AddTrackedApp{Username: "alice", ProcessName: "editor.exe"})
	s.Dispatch(AddTrackedApp{Username: "alice", ProcessName: "editor.exe"})
	s.Dispatch(AddTrackedApp{ProcessName: "editor.exe"})

	st := s.Selector()
	require.Len(t, st.TrackedApps, 1)
	l := st.TrackedApps[0]
	assert.Equal(t, "alice", l.Username)
	assert.Equal(t, "editor.exe", l.DisplayName)
	assert.Zero(t, l.Uptime)
	assert.True(t, l.IsRunning)
	assert.Equal(t, 1, starter.count())
	assert.True(t, s.HasTracker("editor.exe"))
	assert.True(t, s.IsAppTracked("editor.exe"))
}

func TestAddTrackedApp_DefaultsUsername(t *testing.T) {
	s, _ := newTestStore(t, newFileStore(t), &fakeEnum{})
	s.Dispatch(AddTrackedApp{ProcessName: "game.exe"})
	l, ok := s.Lookup("game.exe")
	require.True(t, ok)
	assert.Equal(t, "alice", l.Username)
}

func TestDeleteTrackedApp_RemovesFromMemoryAndFile(t *testing.T) {
	ctx := context.Background()
	fs := newFileStore(t)
	s, starter := newTestStore(t, fs, &fakeEnum{})
	s.Dispatch(AddTrackedApp{ProcessName: "editor.exe"})
	s.Dispatch(AddTrackedApp{ProcessName: "game.exe"})
	s.Dispatch(SaveAllData{})
	h := starter.started[0]

	s.Dispatch(DeleteTrackedApp{ProcessName: "editor.exe"})

	assert.True(t, h.cancelled.Load())
	assert.False(t, s.IsAppTracked("editor.exe"))
	assert.False(t, s.HasTracker("editor.exe"))
	logs, err := fs.Load(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "game.exe", logs[0].ProcessName)

	// a late save from a cancelled tracker must not resurrect the record
	s.Dispatch(SaveData{ProcessName: "editor.exe"})
	logs, err = fs.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, -1, store.Find(logs, "editor.exe"))
}

func TestDeleteTrackedApp_FailureKeepsRecord(t *testing.T) {
	fs := &failingStore{Store: newFileStore(t), failDelete: true}
	s, starter := newTestStore(t, fs, &fakeEnum{})
	s.Dispatch(AddTrackedApp{ProcessName: "editor.exe"})

	s.Dispatch(DeleteTrackedApp{ProcessName: "editor.exe"})

	st := s.Selector()
	require.Len(t, st.TrackedApps, 1)
	assert.False(t, st.TrackedApps[0].IsRunning)
	assert.Contains(t, st.Error, "editor.exe")
	assert.True(t, starter.last().cancelled.Load())

	// not running, so no tracker until the supervisor resumes it
	assert.False(t, s.HasTracker("editor.exe"))
	s.Dispatch(ResumeTracking{ProcessName: "editor.exe"})
	assert.True(t, s.HasTracker("editor.exe"))

	s.Dispatch(CleanErrorMsg{})
	assert.Empty(t, s.Selector().Error)
}

func TestDeleteTrackedApp_FailureRestartsRunningTracker(t *testing.T) {
	fs := &failingStore{Store: newFileStore(t), failDelete: true}
	enum := &fakeEnum{}
	enum.set("editor.exe")
	s, starter := newTestStore(t, fs, enum)
	s.Dispatch(QueryUntrackedApps{})
	s.Dispatch(AddTrackedApp{ProcessName: "editor.exe"})
	first := starter.last()

	s.Dispatch(DeleteTrackedApp{ProcessName: "editor.exe"})

	assert.True(t, first.cancelled.Load())
	require.Equal(t, 2, starter.count())
	assert.False(t, starter.last().cancelled.Load())
	assert.True(t, s.HasTracker("editor.exe"))
	l, ok := s.Lookup("editor.exe")
	require.True(t, ok)
	assert.True(t, l.IsRunning)
}

func TestSave_ReportsEveryFailure(t *testing.T) {
	fs := &failingStore{Store: newFileStore(t), failSave: true}
	s, _ := newTestStore(t, fs, &fakeEnum{})
	s.Dispatch(AddTrackedApp{ProcessName: "code"})
	s.Dispatch(AddTrackedApp{ProcessName: "game"})

	s.Dispatch(SaveData{ProcessName: "code"})
	require.NotEmpty(t, s.Selector().Error)

	// an identical failure after one is already in State.Error
	err := s.Save("code")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not save code: disk full")

	err = s.Save("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code")
	assert.Contains(t, err.Error(), "game")

	fs.failSave = false
	require.NoError(t, s.Save(""))
}

func TestDeleteTrackedApp_WithoutTracker(t *testing.T) {
	s, _ := newTestStore(t, newFileStore(t), &fakeEnum{})
	s.Dispatch(DeleteTrackedApp{ProcessName: "ghost.exe"})
	assert.Empty(t, s.Selector().Error)
}

func TestChangeTrackedAppName(t *testing.T) {
	s, _ := newTestStore(t, newFileStore(t), &fakeEnum{})
	s.Dispatch(AddTrackedApp{ProcessName: "code"})
	s.Dispatch(ChangeTrackedAppName{ProcessName: "code", DisplayName: "VS Code"})
	l, _ := s.Lookup("code")
	assert.Equal(t, "VS Code", l.DisplayName)

	s.Dispatch(ChangeTrackedAppName{ProcessName: "code", DisplayName: ""})
	l, _ = s.Lookup("code")
	assert.Equal(t, "code", l.DisplayName)

	before := s.Selector()
	s.Dispatch(ChangeTrackedAppName{ProcessName: "missing", DisplayName: "x"})
	assert.Equal(t, before.TrackedApps, s.Selector().TrackedApps)
}

func TestAddBadgeToProc_UniqueRank(t *testing.T) {
	s, _ := newTestStore(t, newFileStore(t), &fakeEnum{})
	s.Dispatch(AddTrackedApp{ProcessName: "code"})
	b, ok := badge.For(0, "alice")
	require.True(t, ok)
	for i := 0; i < 3; i++ {
		s.Dispatch(AddBadgeToProc{Badge: b, ProcessName: "code"})
	}
	common, _ := badge.For(3600, "alice")
	s.Dispatch(AddBadgeToProc{Badge: common, ProcessName: "code"})
	s.Dispatch(AddBadgeToProc{Badge: common, ProcessName: "missing"})

	l, _ := s.Lookup("code")
	require.Len(t, l.Badges, 2)
	assert.Equal(t, badge.Initial, l.Badges[0].Rank)
	assert.Equal(t, badge.Common, l.Badges[1].Rank)
}

func TestUpdateAppTime_Absolute(t *testing.T) {
	s, _ := newTestStore(t, newFileStore(t), &fakeEnum{})
	s.Dispatch(AddTrackedApp{ProcessName: "code"})
	s.Dispatch(UpdateAppTime{ProcessName: "code", Seconds: 50})
	s.Dispatch(UpdateAppTime{ProcessName: "code", Seconds: 20})
	s.Dispatch(UpdateAppTime{ProcessName: "missing", Seconds: 99})
	l, _ := s.Lookup("code")
	assert.Equal(t, uint64(20), l.Uptime)
	assert.False(t, s.IsAppTracked("missing"))
}

func TestPauseAndResume(t *testing.T) {
	s, starter := newTestStore(t, newFileStore(t), &fakeEnum{})
	s.Dispatch(AddTrackedApp{ProcessName: "code"})
	first := starter.last()

	s.Dispatch(PauseTracking{ProcessName: "code"})
	l, _ := s.Lookup("code")
	assert.False(t, l.IsRunning)
	assert.False(t, s.HasTracker("code"))
	assert.True(t, first.cancelled.Load())

	s.Dispatch(ResumeTracking{ProcessName: "code"})
	l, _ = s.Lookup("code")
	assert.True(t, l.IsRunning)
	assert.True(t, s.HasTracker("code"))
	assert.Equal(t, 2, starter.count())

	// a second resume while the tracker is live does not start another
	s.Dispatch(ResumeTracking{ProcessName: "code"})
	assert.Equal(t, 2, starter.count())

	s.Dispatch(ResumeTracking{ProcessName: "missing"})
	assert.Equal(t, 2, starter.count())
}

func TestSaveData_PersistsStopped(t *testing.T) {
	ctx := context.Background()
	fs := newFileStore(t)
	s, _ := newTestStore(t, fs, &fakeEnum{})
	s.Dispatch(AddTrackedApp{ProcessName: "code"})
	s.Dispatch(UpdateAppTime{ProcessName: "code", Seconds: 125})
	s.Dispatch(SaveData{ProcessName: "code"})

	logs, err := fs.Load(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, uint64(125), logs[0].Uptime)
	assert.False(t, logs[0].IsRunning)

	// in memory the app keeps running
	l, _ := s.Lookup("code")
	assert.True(t, l.IsRunning)
}

func TestSaveData_FailureIsReportedNotFatal(t *testing.T) {
	fs := &failingStore{Store: newFileStore(t), failSave: true}
	s, _ := newTestStore(t, fs, &fakeEnum{})
	s.Dispatch(AddTrackedApp{ProcessName: "code"})
	s.Dispatch(UpdateAppTime{ProcessName: "code", Seconds: 10})
	s.Dispatch(SaveAllData{})

	st := s.Selector()
	assert.NotEmpty(t, st.Error)
	require.Len(t, st.TrackedApps, 1)
	assert.Equal(t, uint64(10), st.TrackedApps[0].Uptime)
}

func TestFetchTrackedApps_PollsUntilLoaded(t *testing.T) {
	ctx := context.Background()
	fs := newFileStore(t)
	mine := store.NewTrackLog("alice", "code", "Code")
	mine.Uptime = 300
	require.NoError(t, fs.Save(ctx, mine))
	require.NoError(t, fs.Save(ctx, store.NewTrackLog("bob", "game", "")))

	s, _ := newTestStore(t, fs, &fakeEnum{})
	s.Dispatch(FetchTrackedApps{})
	assert.True(t, s.Selector().IsFetchingTracked)

	require.Eventually(t, func() bool {
		s.Dispatch(FetchTrackedApps{})
		return !s.Selector().IsFetchingTracked
	}, 2*time.Second, 5*time.Millisecond)

	st := s.Selector()
	assert.False(t, st.IsErrorTracked)
	require.Len(t, st.TrackedApps, 1)
	assert.Equal(t, "code", st.TrackedApps[0].ProcessName)
	assert.Equal(t, uint64(300), st.TrackedApps[0].Uptime)
	assert.False(t, st.TrackedApps[0].IsRunning)
}

func TestFetchTrackedApps_Failure(t *testing.T) {
	fs := &failingStore{Store: newFileStore(t), failLoad: true}
	s, _ := newTestStore(t, fs, &fakeEnum{})
	require.Eventually(t, func() bool {
		s.Dispatch(FetchTrackedApps{})
		return s.Selector().IsErrorTracked
	}, 2*time.Second, 5*time.Millisecond)
	st := s.Selector()
	assert.False(t, st.IsFetchingTracked)
	assert.NotEmpty(t, st.Error)

	// a later fetch retries and clears the flag
	fs.failLoad = false
	require.Eventually(t, func() bool {
		s.Dispatch(FetchTrackedApps{})
		st := s.Selector()
		return !st.IsFetchingTracked && !st.IsErrorTracked
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFetchTrackedApps_KeepsLiveTrackers(t *testing.T) {
	ctx := context.Background()
	fs := newFileStore(t)
	old := store.NewTrackLog("alice", "code", "")
	old.Uptime = 10
	require.NoError(t, fs.Save(ctx, old))

	s, _ := newTestStore(t, fs, &fakeEnum{})
	s.Dispatch(AddTrackedApp{ProcessName: "code"})
	s.Dispatch(UpdateAppTime{ProcessName: "code", Seconds: 99})
	require.Eventually(t, func() bool {
		s.Dispatch(FetchTrackedApps{})
		return !s.Selector().IsFetchingTracked
	}, 2*time.Second, 5*time.Millisecond)

	l, ok := s.Lookup("code")
	require.True(t, ok)
	assert.Equal(t, uint64(99), l.Uptime)
	assert.True(t, l.IsRunning)
	assert.Len(t, s.Selector().TrackedApps, 1)
}

func TestFetchUntrackedApps(t *testing.T) {
	enum := &fakeEnum{}
	enum.set("a", "b")
	s, _ := newTestStore(t, newFileStore(t), enum)
	require.Eventually(t, func() bool {
		s.Dispatch(FetchUntrackedApps{})
		st := s.Selector()
		return !st.IsFetchingUntracked && len(st.UntrackedApps) == 2
	}, 2*time.Second, 5*time.Millisecond)

	enum.err = procs.ErrNoProcesses
	require.Eventually(t, func() bool {
		s.Dispatch(FetchUntrackedApps{})
		return s.Selector().IsErrorUntracked
	}, 2*time.Second, 5*time.Millisecond)
	// the previous snapshot survives a failed fetch
	assert.Len(t, s.Selector().UntrackedApps, 2)
}

func TestQueryUntrackedApps_FailureYieldsEmpty(t *testing.T) {
	enum := &fakeEnum{}
	enum.set("a")
	s, _ := newTestStore(t, newFileStore(t), enum)
	s.Dispatch(QueryUntrackedApps{})
	assert.True(t, s.Alive("a"))
	p, ok := s.Process("a")
	require.True(t, ok)
	assert.Equal(t, int32(100), p.PID)

	enum.err = errors.New("denied")
	s.Dispatch(QueryUntrackedApps{})
	st := s.Selector()
	assert.Empty(t, st.UntrackedApps)
	assert.NotNil(t, st.UntrackedApps)
	assert.False(t, st.IsErrorUntracked)
	assert.False(t, s.Alive("a"))
}

func TestSelector_ReturnsCopy(t *testing.T) {
	s, _ := newTestStore(t, newFileStore(t), &fakeEnum{})
	s.Dispatch(AddTrackedApp{ProcessName: "code"})
	b, _ := badge.For(0, "alice")
	s.Dispatch(AddBadgeToProc{Badge: b, ProcessName: "code"})

	st := s.Selector()
	st.TrackedApps[0].Uptime = 1000
	st.TrackedApps[0].Badges[0].Description = "mutated"
	l, _ := s.Lookup("code")
	assert.Zero(t, l.Uptime)
	assert.NotEqual(t, "mutated", l.Badges[0].Description)
}

func TestMiddleware_FollowUpAndReentrantDispatch(t *testing.T) {
	s, _ := newTestStore(t, newFileStore(t), &fakeEnum{})
	s.Dispatch(AddTrackedApp{ProcessName: "code"})
	var seen []string
	s.Use(func(st *Store, a Action) []Action {
		seen = append(seen, a.Kind())
		if _, ok := a.(CleanErrorMsg); ok {
			// re-entrant dispatch must not deadlock
			st.Dispatch(UpdateAppTime{ProcessName: "code", Seconds: 5})
			return []Action{ChangeTrackedAppName{ProcessName: "code", DisplayName: "Code"}}
		}
		return nil
	})

	done := make(chan struct{})
	go func() {
		s.Dispatch(CleanErrorMsg{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch deadlocked")
	}
	l, _ := s.Lookup("code")
	assert.Equal(t, uint64(5), l.Uptime)
	assert.Equal(t, "Code", l.DisplayName)
	assert.Equal(t, []string{"CleanErrorMsg", "UpdateAppTime", "ChangeTrackedAppName"}, seen)
}

func TestDispatch_BoundedChain(t *testing.T) {
	s, _ := newTestStore(t, newFileStore(t), &fakeEnum{})
	var n atomic.Int32
	s.Use(func(*Store, Action) []Action {
		n.Add(1)
		return []Action{CleanErrorMsg{}}
	})
	s.Dispatch(CleanErrorMsg{})
	assert.Equal(t, int32(maxChain), n.Load())
}

func TestDispatch_Concurrent(t *testing.T) {
	s, _ := newTestStore(t, newFileStore(t), &fakeEnum{})
	s.Dispatch(AddTrackedApp{ProcessName: "code"})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Dispatch(UpdateAppTime{ProcessName: "code", Seconds: uint64(i)})
			s.Dispatch(AddTrackedApp{ProcessName: "code"})
			_ = s.Selector()
			s.Dispatch(SaveData{ProcessName: "code"})
		}(i)
	}
	wg.Wait()
	assert.Len(t, s.Selector().TrackedApps, 1)
}

func TestStopTrackers(t *testing.T) {
	s, starter := newTestStore(t, newFileStore(t), &fakeEnum{})
	s.Dispatch(AddTrackedApp{ProcessName: "a"})
	s.Dispatch(AddTrackedApp{ProcessName: "b"})
	s.StopTrackers()
	for _, h := range starter.started {
		assert.True(t, h.cancelled.Load())
	}
	assert.False(t, s.HasTracker("a"))
}

func TestPauseTracking_IgnoresStaleSession(t *testing.T) {
	s, starter := newTestStore(t, newFileStore(t), &fakeEnum{})
	s.Dispatch(AddTrackedApp{ProcessName: "code"})
	live := starter.last()

	s.Dispatch(PauseTracking{ProcessName: "code", Session: "someone-else"})
	l, _ := s.Lookup("code")
	assert.True(t, l.IsRunning)
	assert.False(t, live.cancelled.Load())

	s.Dispatch(PauseTracking{ProcessName: "code", Session: live.ID()})
	l, _ = s.Lookup("code")
	assert.False(t, l.IsRunning)
	assert.True(t, live.cancelled.Load())
}
