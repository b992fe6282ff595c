package client

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/omochice/drocsid-chat/internal/clock"
)

func TestKeepalive_Check(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		sinceAgo time.Duration
		wantSend bool
	}{
		{"recent activity", 3 * time.Second, false},
		{"just under threshold", 10*time.Second - time.Nanosecond, false},
		{"exactly threshold", 10 * time.Second, true},
		{"long idle", time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sent := 0
			k := &keepalive{
				idle:   10 * time.Second,
				last:   func() time.Time { return base },
				send:   func() error { sent++; return nil },
				logger: slog.New(slog.DiscardHandler),
			}

			got := k.check(base.Add(tt.sinceAgo))
			assert.Equal(t, tt.wantSend, got)
			if tt.wantSend {
				assert.Equal(t, 1, sent)
			} else {
				assert.Zero(t, sent)
			}
		})
	}
}

func TestKeepalive_HeartbeatResetsIdle(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	last := base
	sent := 0

	k := &keepalive{
		idle: 10 * time.Second,
		last: func() time.Time { return last },
		send: func() error {
			sent++
			return nil
		},
		logger: slog.New(slog.DiscardHandler),
	}

	now := base.Add(12 * time.Second)
	assert.True(t, k.check(now))
	last = now

	// Inside the following period nothing more is due.
	assert.False(t, k.check(now.Add(9*time.Second)))
	assert.Equal(t, 1, sent)
}

func TestKeepalive_SendFailureIsNotFatal(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := clock.Fake(base)
	attempts := make(chan struct{}, 4)

	k := &keepalive{
		clock:  fake,
		period: time.Second,
		idle:   time.Second,
		last:   func() time.Time { return base },
		send: func() error {
			attempts <- struct{}{}
			return errors.New("broken pipe")
		},
		logger: slog.New(slog.DiscardHandler),
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		k.run(done)
		close(stopped)
	}()
	fake.WaitForTickers(1)

	for i := 0; i < 2; i++ {
		fake.Advance(time.Second)
		select {
		case <-attempts:
		case <-time.After(2 * time.Second):
			t.Fatalf("attempt %d did not happen", i+1)
		}
	}

	close(done)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("keepalive did not stop")
	}
}
