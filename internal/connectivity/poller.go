package connectivity

import (
	"context"
	"time"

	"fieldsync/internal/fieldsync"
)

// Pinger checks whether the remote side answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Poller derives connectivity from periodic pings of the remote API.
type Poller struct {
	*Manual
	pinger   Pinger
	interval time.Duration
	logger   fieldsync.Logger
}

// NewPoller creates a poller that assumes the device is online until the
// first check says otherwise.
func NewPoller(pinger Pinger, interval time.Duration, logger fieldsync.Logger) *Poller {
	if logger == nil {
		logger = fieldsync.NewNopLogger()
	}
	return &Poller{
		Manual:   NewManual(true),
		pinger:   pinger,
		interval: interval,
		logger:   logger,
	}
}

// Check pings once and records the result.
func (p *Poller) Check(ctx context.Context) bool {
	err := p.pinger.Ping(ctx)
	if ctx.Err() != nil {
		// Shutting down says nothing about the network.
		return p.Online()
	}
	online := err == nil
	if online != p.Online() {
		if online {
			p.logger.Info("remote reachable")
		} else {
			p.logger.Warn("remote unreachable", "error", err)
		}
	}
	p.Set(online)
	return online
}

// Run checks immediately and then every interval until ctx is canceled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}
