package apptrack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/apptrack/internal/badge"
	cfg "github.com/loykin/apptrack/internal/config"
	"github.com/loykin/apptrack/internal/metrics"
	"github.com/loykin/apptrack/internal/procs"
	"github.com/loykin/apptrack/internal/state"
	"github.com/loykin/apptrack/internal/store"
	"github.com/loykin/apptrack/internal/tracking"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type TrackLog = store.TrackLog

type Badge = badge.Badge

type Rank = badge.Rank

type ProcessInfo = procs.ProcessInfo

type State = state.State

type Config = cfg.Config

type Store = store.Store

type Enumerator = procs.Enumerator

var (
	ErrNotTracked = errors.New("app is not tracked")
	ErrEmptyName  = errors.New("empty process name")
)

// Options configures an Engine. Nil fields take defaults: cfg.Default(),
// a JSON file store at Config.Store.Path and the OS process table.
type Options struct {
	Config     *Config
	Persist    Store
	Enumerator Enumerator
	Logger     *slog.Logger
}

// Engine wires the state store, tracker launcher and supervisor together.
type Engine struct {
	cfg      Config
	st       *state.Store
	launcher *tracking.Launcher
	sup      *tracking.Supervisor
	log      *slog.Logger

	cancel   context.CancelFunc
	stopOnce sync.Once
}

func New(opts Options) (*Engine, error) {
	c := cfg.Default()
	if opts.Config != nil {
		c = *opts.Config
	}
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}
	persist := opts.Persist
	if persist == nil {
		f, err := store.NewFile(c.Store.Path)
		if err != nil {
			return nil, err
		}
		persist = f
	}
	enum := opts.Enumerator
	if enum == nil {
		enum = procs.NewSystem(l)
	}

	st := state.New(state.Options{Persist: persist, Enumerator: enum, Username: c.Username, Logger: l})
	ctx, cancel := context.WithCancel(context.Background())
	launcher := tracking.NewLauncher(ctx, st, tracking.Config{
		Interval:   c.Tracker.Interval,
		SaveEvery:  c.Tracker.SaveEvery,
		BadgeEvery: c.Tracker.BadgeEvery,
	}, l)
	st.SetStarter(launcher)
	return &Engine{
		cfg:      c,
		st:       st,
		launcher: launcher,
		sup:      tracking.NewSupervisor(st, c.Supervisor.Interval, l),
		log:      l,
		cancel:   cancel,
	}, nil
}

// Username returns the account whose logs the engine manages.
func (e *Engine) Username() string { return e.st.Username() }

// Load fetches the persisted logs of the engine's user into memory.
func (e *Engine) Load(ctx context.Context) error {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		e.st.Dispatch(state.FetchTrackedApps{})
		s := e.st.Selector()
		if !s.IsFetchingTracked {
			if s.IsErrorTracked {
				return errors.New(s.Error)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Start loads persisted logs, takes a first process snapshot and starts
// tracking the configured apps. Previously tracked apps resume once the
// supervisor sees them running.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Load(ctx); err != nil {
		return fmt.Errorf("load tracked apps: %w", err)
	}
	e.st.Dispatch(state.QueryUntrackedApps{})
	for _, name := range e.cfg.Track {
		if err := e.Track(name); err != nil {
			return err
		}
	}
	e.log.Info("Engine started", "user", e.Username(), "tracked", len(e.Snapshot().TrackedApps))
	return nil
}

// Supervise runs the restart-detecting supervisor until ctx is done.
func (e *Engine) Supervise(ctx context.Context) error {
	err := e.sup.Run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Track starts tracking processName. Tracking an app twice is a no-op.
func (e *Engine) Track(processName string) error {
	name := strings.TrimSpace(processName)
	if name == "" {
		return ErrEmptyName
	}
	e.st.Dispatch(state.AddTrackedApp{Username: e.Username(), ProcessName: name})
	return nil
}

// Untrack stops tracking processName and deletes its log.
func (e *Engine) Untrack(processName string) error {
	if !e.st.IsAppTracked(processName) {
		return fmt.Errorf("%w: %s", ErrNotTracked, processName)
	}
	e.st.Dispatch(state.DeleteTrackedApp{ProcessName: processName})
	if e.st.IsAppTracked(processName) {
		return errors.New(e.st.Selector().Error)
	}
	return nil
}

// Rename sets the display name of processName and saves it. An empty
// display name falls back to the process name.
func (e *Engine) Rename(processName, displayName string) error {
	if !e.st.IsAppTracked(processName) {
		return fmt.Errorf("%w: %s", ErrNotTracked, processName)
	}
	e.st.Dispatch(state.ChangeTrackedAppName{ProcessName: processName, DisplayName: strings.TrimSpace(displayName)})
	return e.Save(processName)
}

// Save persists processName, or every tracked app when it is empty.
func (e *Engine) Save(processName string) error {
	return e.st.Save(processName)
}

// IsTracked reports whether processName has a log in memory.
func (e *Engine) IsTracked(processName string) bool { return e.st.IsAppTracked(processName) }

// Lookup returns the in-memory log of processName.
func (e *Engine) Lookup(processName string) (TrackLog, bool) { return e.st.Lookup(processName) }

// Snapshot returns a deep copy of the current state.
func (e *Engine) Snapshot() State { return e.st.Selector() }

// Processes refreshes and returns the running process snapshot.
func (e *Engine) Processes() []ProcessInfo {
	e.st.Dispatch(state.QueryUntrackedApps{})
	return e.st.Selector().UntrackedApps
}

// Shutdown stops every tracker, waits for them and saves all logs.
// It is safe to call more than once.
func (e *Engine) Shutdown() error { return e.stop(true) }

// Close stops every tracker without saving. Use it for short-lived
// engines that only read or edit logs.
func (e *Engine) Close() { _ = e.stop(false) }

func (e *Engine) stop(save bool) error {
	var err error
	e.stopOnce.Do(func() {
		e.cancel()
		e.launcher.Wait()
		if save {
			err = e.Save("")
		}
		e.st.Close()
		e.log.Debug("Engine stopped", "saved", save)
	})
	return err
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// WriteMetrics writes everything g gathers to a node_exporter textfile.
func WriteMetrics(path string, g prometheus.Gatherer) error { return metrics.WriteTextfile(path, g) }

// Ladder returns the badge milestones in ascending order.
func Ladder() []badge.Rung { return append([]badge.Rung(nil), badge.Ladder...) }
