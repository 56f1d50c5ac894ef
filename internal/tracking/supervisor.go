package tracking

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/apptrack/internal/metrics"
	"github.com/loykin/apptrack/internal/procs"
	"github.com/loykin/apptrack/internal/state"
)

const DefaultSupervisorInterval = 3 * time.Second

// Supervisor refreshes the process snapshot and resumes paused apps whose
// process has come back.
type Supervisor struct {
	host     Host
	interval time.Duration
	log      *slog.Logger
	prev     int
}

func NewSupervisor(host Host, interval time.Duration, l *slog.Logger) *Supervisor {
	if interval <= 0 {
		interval = DefaultSupervisorInterval
	}
	if l == nil {
		l = slog.Default()
	}
	return &Supervisor{host: host, interval: interval, log: l.With("component", "supervisor")}
}

// Run ticks until ctx is done. Only one Run may be active per Supervisor.
func (s *Supervisor) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		s.Tick()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Tick runs one supervisor pass and returns the names it resumed.
// Restarts are only looked for when the snapshot size changed since the
// previous pass.
func (s *Supervisor) Tick() []string {
	s.host.Dispatch(state.QueryUntrackedApps{})
	st := s.host.Selector()
	n := len(st.UntrackedApps)
	if n == s.prev {
		return nil
	}
	s.prev = n

	var resumed []string
	for _, l := range st.TrackedApps {
		if l.IsRunning || !procs.Contains(st.UntrackedApps, l.ProcessName) {
			continue
		}
		s.log.Info("Tracked app restarted", "process", l.ProcessName)
		s.host.Dispatch(state.ResumeTracking{ProcessName: l.ProcessName})
		metrics.IncResume()
		resumed = append(resumed, l.ProcessName)
	}
	return resumed
}
