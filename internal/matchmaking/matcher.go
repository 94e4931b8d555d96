// internal/matchmaking/matcher.go
package matchmaking

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultInterval is the cadence of the periodic match pass.
const DefaultInterval = time.Second

// Matcher drives a match pass function on a fixed interval until its context
// is cancelled.
type Matcher struct {
	interval time.Duration
	pass     func() bool
	log      *logrus.Entry
}

// NewMatcher builds a Matcher. A non-positive interval falls back to DefaultInterval.
func NewMatcher(interval time.Duration, pass func() bool, logger *logrus.Logger) *Matcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Matcher{
		interval: interval,
		pass:     pass,
		log:      logger.WithField("component", "matcher"),
	}
}

// Run blocks, invoking the pass once per tick. It returns ctx.Err() on shutdown.
func (m *Matcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Infof("match pass every %s", m.interval)
	for {
		select {
		case <-ctx.Done():
			m.log.Info("matcher stopping")
			return ctx.Err()
		case <-ticker.C:
			if m.pass() {
				m.log.Debug("match pass produced a pairing")
			}
		}
	}
}
