package procs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// System enumerates the real OS process table through gopsutil.
type System struct {
	log *slog.Logger
}

// NewSystem returns an Enumerator backed by the OS. A nil logger uses slog.Default().
func NewSystem(l *slog.Logger) *System {
	if l == nil {
		l = slog.Default()
	}
	return &System{log: l}
}

// Processes returns name, pid and creation time of every process whose name
// could be read. It fails with ErrNoProcesses if none could.
func (s *System) Processes(ctx context.Context) ([]ProcessInfo, error) {
	ps, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	out := make([]ProcessInfo, 0, len(ps))
	skipped := 0
	for _, p := range ps {
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			skipped++
			continue
		}
		info := ProcessInfo{Name: name, PID: p.Pid}
		if ms, err := p.CreateTimeWithContext(ctx); err == nil && ms > 0 {
			info.StartedAt = time.UnixMilli(ms)
		}
		out = append(out, info)
	}
	s.log.Debug("Enumerated processes", "opened", len(out), "skipped", skipped)
	if len(out) == 0 {
		return nil, ErrNoProcesses
	}
	return out, nil
}

// CurrentUsername returns the account name owning this process, without
// any domain prefix. It falls back to GuestUsername.
func CurrentUsername() string {
	p, err := process.NewProcess(int32(os.Getpid())) // #nosec G115
	if err != nil {
		return GuestUsername
	}
	name, err := p.Username()
	if err != nil {
		return GuestUsername
	}
	return normalizeUsername(name)
}

func normalizeUsername(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexByte(name, '\\'); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return GuestUsername
	}
	return name
}
