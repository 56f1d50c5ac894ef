package tracking

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/loykin/apptrack/internal/badge"
	"github.com/loykin/apptrack/internal/procs"
	"github.com/loykin/apptrack/internal/state"
	"github.com/loykin/apptrack/internal/store"
)

const (
	DefaultInterval   = 5 * time.Second
	DefaultSaveEvery  = 120 * time.Second
	DefaultBadgeEvery = 300 * time.Second
)

// maxUptime is the largest uptime in seconds a time.Duration can hold.
const maxUptime = uint64(math.MaxInt64 / int64(time.Second))

// Config sets the tracker cadence. Zero fields take the defaults.
type Config struct {
	Interval   time.Duration
	SaveEvery  time.Duration
	BadgeEvery time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.SaveEvery <= 0 {
		c.SaveEvery = DefaultSaveEvery
	}
	if c.BadgeEvery <= 0 {
		c.BadgeEvery = DefaultBadgeEvery
	}
	return c
}

// Host is the view of the application state that trackers and the
// supervisor work against. *state.Store implements it.
type Host interface {
	Dispatch(a state.Action)
	Selector() state.State
	Lookup(processName string) (store.TrackLog, bool)
	Process(name string) (procs.ProcessInfo, bool)
	Username() string
}

// waitFunc blocks for d or until ctx is done. It reports whether the full
// interval passed.
type waitFunc func(ctx context.Context, d time.Duration) bool

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// tracker accumulates uptime for one process until the process disappears
// from the snapshot or its context is cancelled.
type tracker struct {
	name    string
	session string
	host    Host
	cfg     Config
	log     *slog.Logger
	now     func() time.Time
	wait    waitFunc
}

func (t *tracker) run(ctx context.Context) {
	total := t.initialTotal()
	var elapsed, nextSave, nextBadge time.Duration
	t.log.Debug("Tracker running", "uptime", uint64(total/time.Second))

	for {
		if ctx.Err() != nil {
			t.log.Debug("Tracker cancelled")
			return
		}
		if _, alive := t.host.Process(t.name); !alive {
			t.log.Info("Process is gone; pausing", "uptime", uint64(total/time.Second))
			t.host.Dispatch(state.PauseTracking{ProcessName: t.name, Session: t.session})
			t.host.Dispatch(state.SaveData{ProcessName: t.name})
			return
		}

		secs := uint64(total / time.Second)
		t.host.Dispatch(state.UpdateAppTime{ProcessName: t.name, Seconds: secs})
		if elapsed >= nextSave {
			t.host.Dispatch(state.SaveData{ProcessName: t.name})
			nextSave += t.cfg.SaveEvery
		}
		if elapsed >= nextBadge {
			nextBadge += t.cfg.BadgeEvery
			if b, ok := badge.For(secs, t.host.Username()); ok {
				t.host.Dispatch(state.AddBadgeToProc{Badge: b, ProcessName: t.name})
			}
		}

		if !t.wait(ctx, t.cfg.Interval) {
			t.log.Debug("Tracker cancelled")
			return
		}
		elapsed += t.cfg.Interval
		if total <= math.MaxInt64-t.cfg.Interval {
			total += t.cfg.Interval
		}
	}
}

// initialTotal resumes from the larger of the stored uptime and how long the
// OS says the process has been running.
func (t *tracker) initialTotal() time.Duration {
	var total time.Duration
	if l, ok := t.host.Lookup(t.name); ok {
		if l.Uptime > maxUptime {
			t.log.Warn("Stored uptime out of range; clamping", "uptime", l.Uptime, "max", maxUptime)
		}
		total = time.Duration(min(l.Uptime, maxUptime)) * time.Second
	}
	if p, ok := t.host.Process(t.name); ok {
		if e := p.Elapsed(t.now()).Truncate(time.Second); e > total {
			total = e
		}
	}
	return total
}
