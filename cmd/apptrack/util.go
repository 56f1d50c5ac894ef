package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/loykin/apptrack"
	"github.com/loykin/apptrack/internal/config"
)

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the configured logger and a func releasing its file.
func newLogger(cfg config.Config) (*slog.Logger, func()) {
	w := cfg.Log.Writer()
	closeFn := func() {}
	if c, ok := w.(io.Closer); ok && cfg.Log.File != "" {
		closeFn = func() { _ = c.Close() }
	}
	return cfg.Log.NewSloggerTo(w), closeFn
}

// formatUptime renders seconds as "2 hours (2h5m0s)".
func formatUptime(secs uint64) string {
	d := time.Duration(secs) * time.Second
	if d < time.Minute {
		return d.String()
	}
	var epoch time.Time
	rel := strings.TrimSpace(humanize.RelTime(epoch, epoch.Add(d), "", ""))
	return fmt.Sprintf("%s (%s)", rel, d)
}

func highestRank(badges []apptrack.Badge) apptrack.Rank {
	top := badges[0].Rank
	for _, b := range badges[1:] {
		if b.Rank > top {
			top = b.Rank
		}
	}
	return top
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
