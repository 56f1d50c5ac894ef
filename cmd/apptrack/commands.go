package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/apptrack"
	"github.com/loykin/apptrack/internal/config"
)

// defaultConfigPath is used by config init when no path is given.
const defaultConfigPath = "apptrack.toml"

// command carries what subcommands share. A nil enum uses the OS process
// table.
type command struct {
	enum apptrack.Enumerator
}

// Run starts the engine and blocks until ctx is done or a shutdown signal
// arrives, then saves every log.
func (c command) Run(ctx context.Context, out io.Writer, g GlobalFlags, f RunFlags) error {
	cfg, err := loadConfig(g.ConfigPath)
	if err != nil {
		return err
	}
	cfg.Track = append(cfg.Track, f.Track...)

	log, closeLog := newLogger(cfg)
	defer closeLog()
	slog.SetDefault(log)

	e, err := apptrack.New(apptrack.Options{Config: &cfg, Enumerator: c.enum, Logger: log})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := e.Start(ctx); err != nil {
		e.Close()
		return err
	}
	_, _ = fmt.Fprintf(out, "Tracking %d app(s) for %s; stats in %s\n", len(e.Snapshot().TrackedApps), e.Username(), cfg.Store.Path)

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return e.Supervise(gctx) })

	var reg *prometheus.Registry
	if cfg.Metrics.Textfile != "" {
		reg = prometheus.NewRegistry()
		if err := apptrack.RegisterMetrics(reg); err != nil {
			log.Warn("Failed to register metrics", "error", err)
			reg = nil
		} else {
			grp.Go(func() error {
				flushMetrics(gctx, cfg.Metrics.Textfile, cfg.Metrics.FlushInterval, reg, log)
				return nil
			})
		}
	}

	err = grp.Wait()
	serr := e.Shutdown()
	if serr != nil {
		log.Error("Failed to save logs on shutdown", "error", serr)
		if err == nil {
			err = serr
		}
	}
	if reg != nil {
		if werr := apptrack.WriteMetrics(cfg.Metrics.Textfile, reg); werr != nil {
			log.Warn("Failed to write metrics textfile", "path", cfg.Metrics.Textfile, "error", werr)
		}
	}
	if serr != nil {
		_, _ = fmt.Fprintln(out, "Stopped; saving logs failed")
		return err
	}
	_, _ = fmt.Fprintln(out, "Stopped; all logs saved")
	return err
}

// flushMetrics writes the textfile every interval until ctx is done.
func flushMetrics(ctx context.Context, path string, every time.Duration, g prometheus.Gatherer, log *slog.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := apptrack.WriteMetrics(path, g); err != nil {
				log.Warn("Failed to write metrics textfile", "path", path, "error", err)
			}
		}
	}
}

type psRow struct {
	Name      string    `json:"name"`
	PID       int32     `json:"pid"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Tracked   bool      `json:"tracked"`
}

// Ps prints the running processes, one row per name.
func (c command) Ps(ctx context.Context, out io.Writer, g GlobalFlags, f OutputFlags) error {
	e, err := c.openEngine(ctx, g)
	if err != nil {
		return err
	}
	defer e.Close()

	seen := make(map[string]struct{})
	rows := make([]psRow, 0)
	for _, p := range e.Processes() {
		if _, dup := seen[p.Name]; dup {
			continue
		}
		seen[p.Name] = struct{}{}
		rows = append(rows, psRow{Name: p.Name, PID: p.PID, StartedAt: p.StartedAt, Tracked: e.IsTracked(p.Name)})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })

	if f.JSON {
		return printJSON(out, rows)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TRACKED\tPID\tNAME\tSTARTED")
	for _, r := range rows {
		mark := ""
		if r.Tracked {
			mark = "*"
		}
		started := "-"
		if !r.StartedAt.IsZero() {
			started = humanize.Time(r.StartedAt)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", mark, r.PID, r.Name, started)
	}
	return tw.Flush()
}

// Status prints the persisted logs of the configured user.
func (c command) Status(ctx context.Context, out io.Writer, g GlobalFlags, f OutputFlags) error {
	e, err := c.openEngine(ctx, g)
	if err != nil {
		return err
	}
	defer e.Close()

	logs := e.Snapshot().TrackedApps
	sort.Slice(logs, func(i, j int) bool { return logs[i].Uptime > logs[j].Uptime })
	if f.JSON {
		return printJSON(out, logs)
	}
	if len(logs) == 0 {
		_, _ = fmt.Fprintf(out, "No tracked apps for %s\n", e.Username())
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tPROCESS\tUPTIME\tBADGE\tBADGES")
	for _, l := range logs {
		top := "-"
		if len(l.Badges) > 0 {
			top = highestRank(l.Badges).String()
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", l.Name(), l.ProcessName, formatUptime(l.Uptime), top, len(l.Badges))
	}
	return tw.Flush()
}

// Rename changes the display name of a tracked app and saves it.
func (c command) Rename(ctx context.Context, out io.Writer, g GlobalFlags, process, display string) error {
	e, err := c.openEngine(ctx, g)
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.Rename(process, display); err != nil {
		return err
	}
	l, _ := e.Lookup(process)
	_, _ = fmt.Fprintf(out, "%s is now shown as %q\n", process, l.DisplayName)
	return nil
}

// Delete removes a tracked app and its log.
func (c command) Delete(ctx context.Context, out io.Writer, g GlobalFlags, process string) error {
	e, err := c.openEngine(ctx, g)
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.Untrack(process); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Deleted %s\n", process)
	return nil
}

// Badges prints every rung of the badge ladder.
func (c command) Badges(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "HOURS\tRANK\tDESCRIPTION")
	for _, r := range apptrack.Ladder() {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", humanize.Comma(int64(r.Hours)), r.Rank, r.Description)
	}
	return tw.Flush()
}

// ConfigInit writes the default configuration to path.
func (c command) ConfigInit(out io.Writer, path string, force bool) error {
	if path == "" {
		path = defaultConfigPath
	}
	if err := config.Write(path, config.Default(), force); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Wrote %s\n", path)
	return nil
}

// openEngine builds an engine for a one-shot command and loads the logs.
// It logs warnings only, to stderr, so command output stays clean.
func (c command) openEngine(ctx context.Context, g GlobalFlags) (*apptrack.Engine, error) {
	cfg, err := loadConfig(g.ConfigPath)
	if err != nil {
		return nil, err
	}
	cfg.Log.Level = "warn"
	cfg.Log.File = ""
	log, _ := newLogger(cfg)
	e, err := apptrack.New(apptrack.Options{Config: &cfg, Enumerator: c.enum, Logger: log})
	if err != nil {
		return nil, err
	}
	if err := e.Load(ctx); err != nil {
		e.Close()
		return nil, fmt.Errorf("load %s: %w", cfg.Store.Path, err)
	}
	return e, nil
}
