package tracking

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/apptrack/internal/metrics"
	"github.com/loykin/apptrack/internal/state"
)

// Handle controls one tracker session.
type Handle struct {
	id      string
	process string
	cancel  context.CancelFunc
	done    chan struct{}
}

// ID returns the session id, unique per started tracker.
func (h *Handle) ID() string { return h.id }

// Cancel asks the tracker to stop. It does not wait; Launcher.Wait does.
func (h *Handle) Cancel() { h.cancel() }

// Launcher starts tracker goroutines on behalf of the state store.
// All trackers share the parent context given to NewLauncher.
type Launcher struct {
	parent context.Context
	host   Host
	cfg    Config
	log    *slog.Logger
	wg     sync.WaitGroup

	now  func() time.Time
	wait waitFunc
}

// NewLauncher returns a Launcher. Call host.SetStarter with it so that
// AddTrackedApp and ResumeTracking start trackers.
func NewLauncher(ctx context.Context, host Host, cfg Config, l *slog.Logger) *Launcher {
	if l == nil {
		l = slog.Default()
	}
	return &Launcher{
		parent: ctx,
		host:   host,
		cfg:    cfg.withDefaults(),
		log:    l,
		now:    time.Now,
		wait:   sleepCtx,
	}
}

// StartTracker implements state.Starter. It returns immediately; the tracker
// first touches the store once the current reduction has released it.
func (l *Launcher) StartTracker(processName string) state.Handle {
	ctx, cancel := context.WithCancel(l.parent)
	h := &Handle{
		id:      uuid.NewString(),
		process: processName,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	t := &tracker{
		name:    processName,
		session: h.id,
		host:    l.host,
		cfg:     l.cfg,
		log:     l.log.With("process", processName, "session", h.id),
		now:     l.now,
		wait:    l.wait,
	}
	l.wg.Add(1)
	metrics.TrackerStarted()
	go func() {
		defer l.wg.Done()
		defer close(h.done)
		defer cancel()
		defer metrics.TrackerStopped()
		t.run(ctx)
	}()
	return h
}

// Wait blocks until every tracker started so far has returned.
func (l *Launcher) Wait() { l.wg.Wait() }
