package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/trezcool/suriaral/core"
)

// Evicter drops the sessions not used for longer than maxIdle.
type Evicter interface {
	EvictIdle(maxIdle time.Duration) int
}

// SessionEviction stops the profile subscriptions of identities that went quiet.
type SessionEviction struct {
	sessions Evicter
	maxIdle  time.Duration
	logger   core.Logger
}

func NewSessionEviction(sessions Evicter, conf core.AccessConfig, logger core.Logger) *SessionEviction {
	return &SessionEviction{sessions: sessions, maxIdle: conf.SessionIdleTTL, logger: logger}
}

// Run evicts every half idle TTL until ctx is done. It returns right away when the TTL is not set.
func (j *SessionEviction) Run(ctx context.Context) {
	if j.maxIdle <= 0 {
		return
	}
	ticker := time.NewTicker(j.maxIdle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Evict()
		}
	}
}

func (j *SessionEviction) Evict() int {
	n := j.sessions.EvictIdle(j.maxIdle)
	if n > 0 {
		j.logger.Debug(fmt.Sprintf("evicted %d idle session(s)", n))
	}
	return n
}
