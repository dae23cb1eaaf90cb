// Package reaper sweeps leftover scratch directories. In-handler cleanup runs
// via defer, but a worker killed by the queue's hard timeout never reaches
// its defers; the reaper is the out-of-band fallback that keeps the scratch
// root from accumulating orphans.
package reaper

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const scratchPrefix = "transform-"

// Reaper periodically deletes scratch directories older than maxAge
type Reaper struct {
	scratchRoot string
	maxAge      time.Duration
	interval    time.Duration
	logger      *slog.Logger
}

// New creates a reaper. maxAge should exceed the transform task timeout so a
// live job's workspace is never swept out from under it.
func New(scratchRoot string, maxAge, interval time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		scratchRoot: scratchRoot,
		maxAge:      maxAge,
		interval:    interval,
		logger:      logger,
	}
}

// Run sweeps on a ticker until the context is cancelled
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep removes every scratch directory older than maxAge
func (r *Reaper) Sweep() {
	entries, err := os.ReadDir(r.scratchRoot)
	if err != nil {
		r.logger.Warn("failed to read scratch root", slog.String("dir", r.scratchRoot), slog.Any("error", err))
		return
	}

	cutoff := time.Now().Add(-r.maxAge)
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), scratchPrefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		dir := filepath.Join(r.scratchRoot, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Warn("failed to remove stale scratch dir", slog.String("dir", dir), slog.Any("error", err))
			continue
		}
		r.logger.Info("removed stale scratch dir", slog.String("dir", dir))
	}
}
