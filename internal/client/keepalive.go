package client

import (
	"log/slog"
	"time"

	"github.com/omochice/drocsid-chat/internal/clock"
)

// keepalive sends a heartbeat whenever nothing was sent for idle. It
// checks once per period, so a due heartbeat goes out at most one period
// late.
type keepalive struct {
	clock  clock.Clock
	period time.Duration
	idle   time.Duration
	last   func() time.Time
	send   func() error
	logger *slog.Logger
}

func (k *keepalive) run(done <-chan struct{}) {
	ticker := k.clock.NewTicker(k.period)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			select {
			case <-done:
				return
			default:
			}
			k.check(k.clock.Now())
		}
	}
}

// check sends a heartbeat if the last send is at least idle old. The
// boundary is inclusive: with period equal to idle, a silent client sends
// one heartbeat per tick. It reports whether a heartbeat was written.
func (k *keepalive) check(now time.Time) bool {
	if now.Sub(k.last()) < k.idle {
		return false
	}
	if err := k.send(); err != nil {
		k.logger.Warn("failed to send heartbeat", "error", err)
		return false
	}
	k.logger.Debug("heartbeat sent")
	return true
}
