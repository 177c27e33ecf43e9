// Package jobs runs the periodic maintenance of the API process.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/trezcool/suriaral/core"
)

// Purger hard-deletes the faculty records whose restore window elapsed.
type Purger interface {
	PurgeExpiredFaculty(ctx context.Context) (int, error)
}

type FacultySweep struct {
	purger   Purger
	interval time.Duration
	timeout  time.Duration
	logger   core.Logger
}

func NewFacultySweep(purger Purger, conf core.AccessConfig, logger core.Logger) *FacultySweep {
	return &FacultySweep{
		purger:   purger,
		interval: conf.SweepInterval,
		timeout:  conf.SweepTimeout,
		logger:   logger,
	}
}

// Run sweeps once right away, then every interval, until ctx is done.
func (s *FacultySweep) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep runs one purge, bounded by the sweep timeout. Failures are logged; the next tick retries.
func (s *FacultySweep) Sweep(ctx context.Context) int {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	n, err := s.purger.PurgeExpiredFaculty(ctx)
	if err != nil {
		s.logger.Error(fmt.Sprintf("faculty sweep: %v", err), err, map[string]interface{}{"purged": n})
		return n
	}
	if n > 0 {
		s.logger.Info(fmt.Sprintf("faculty sweep purged %d record(s)", n))
	}
	return n
}
