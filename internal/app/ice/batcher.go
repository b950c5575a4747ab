// Package ice batches locally gathered ICE candidates so the host receives
// them in a few messages instead of one per candidate.
package ice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrStopped = errors.New("ice batcher stopped")

type Config struct {
	Delay          time.Duration `mapstructure:"delay"`
	ExtrasInterval time.Duration `mapstructure:"extras_interval"`
	ExtrasTimeout  time.Duration `mapstructure:"extras_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Delay:          750 * time.Millisecond,
		ExtrasInterval: 1500 * time.Millisecond,
		ExtrasTimeout:  12 * time.Second,
	}
}

// Batcher collects candidates and releases them in batches:
//   - the first batch is "resolved" once gathering completes or Delay after
//     the first candidate, whichever comes first, and is returned by Wait;
//   - later candidates are sent every ExtrasInterval until ExtrasTimeout,
//     then once more when gathering completes.
//
// Empty batches are never sent.
type Batcher struct {
	cfg   Config
	clock clock.Clock
	send  func([]webrtc.ICECandidateInit)
	log   zerolog.Logger

	// sendMu keeps released batches in order; it is taken before mu.
	sendMu sync.Mutex

	mu         sync.Mutex
	pending    []webrtc.ICECandidateInit
	initial    []webrtc.ICECandidateInit
	resolved   bool
	extrasDone bool
	stopped    bool
	done       chan struct{}

	delay    *clock.Timer
	interval *clock.Timer
	timeout  *clock.Timer
}

func NewBatcher(cfg Config, clk clock.Clock, send func([]webrtc.ICECandidateInit)) *Batcher {
	if clk == nil {
		clk = clock.New()
	}
	return &Batcher{
		cfg:   cfg,
		clock: clk,
		send:  send,
		log:   log.With().Str("module", "app.ice").Logger(),
		done:  make(chan struct{}),
	}
}

// Add records a locally gathered candidate.
func (b *Batcher) Add(c webrtc.ICECandidateInit) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.pending = append(b.pending, c)
	if !b.resolved && b.delay == nil {
		b.delay = b.clock.AfterFunc(b.cfg.Delay, b.onDelay)
	}
}

// GatheringComplete must be called once local ICE gathering has finished.
func (b *Batcher) GatheringComplete() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	if !b.resolved {
		b.resolveLocked()
		b.extrasDone = true
		n := len(b.initial)
		b.mu.Unlock()
		b.log.Debug().Int("candidates", n).Msg("gathering complete before delay")
		return
	}
	b.stopExtrasLocked()
	b.mu.Unlock()
	b.flush()
}

// Wait blocks until the first batch is resolved. When ctx ends first, the
// batch is resolved with whatever has accumulated and ctx.Err() is returned
// alongside it.
func (b *Batcher) Wait(ctx context.Context) ([]webrtc.ICECandidateInit, error) {
	select {
	case <-b.done:
	case <-ctx.Done():
		b.mu.Lock()
		if !b.resolved && !b.stopped {
			b.resolveLocked()
			b.startExtrasLocked()
		}
		b.mu.Unlock()
		<-b.done
		if b.isStopped() {
			return nil, ErrStopped
		}
		return b.initial, ctx.Err()
	}
	if b.isStopped() && !b.wasResolved() {
		return nil, ErrStopped
	}
	return b.initial, nil
}

// Stop cancels every timer. Nothing is sent afterwards and pending waiters
// are released.
func (b *Batcher) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	if b.delay != nil {
		b.delay.Stop()
	}
	b.stopExtrasLocked()
	b.pending = nil
	if !b.resolved {
		close(b.done)
	}
}

func (b *Batcher) onDelay() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped || b.resolved {
		return
	}
	b.resolveLocked()
	b.startExtrasLocked()
}

func (b *Batcher) onInterval() {
	b.mu.Lock()
	if b.stopped || b.extrasDone {
		b.mu.Unlock()
		return
	}
	b.interval = b.clock.AfterFunc(b.cfg.ExtrasInterval, b.onInterval)
	b.mu.Unlock()
	b.flush()
}

func (b *Batcher) onExtrasTimeout() {
	b.mu.Lock()
	if b.stopped || b.extrasDone {
		b.mu.Unlock()
		return
	}
	b.stopExtrasLocked()
	b.mu.Unlock()
	b.flush()
}

func (b *Batcher) resolveLocked() {
	if b.delay != nil {
		b.delay.Stop()
	}
	b.resolved = true
	b.initial = b.pending
	if b.initial == nil {
		b.initial = []webrtc.ICECandidateInit{}
	}
	b.pending = nil
	close(b.done)
}

func (b *Batcher) startExtrasLocked() {
	b.interval = b.clock.AfterFunc(b.cfg.ExtrasInterval, b.onInterval)
	b.timeout = b.clock.AfterFunc(b.cfg.ExtrasTimeout, b.onExtrasTimeout)
}

func (b *Batcher) stopExtrasLocked() {
	b.extrasDone = true
	if b.interval != nil {
		b.interval.Stop()
	}
	if b.timeout != nil {
		b.timeout.Stop()
	}
}

func (b *Batcher) flush() {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	b.mu.Lock()
	if b.stopped || len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	b.log.Debug().Int("candidates", len(batch)).Msg("sending extra candidates")
	b.send(batch)
}

func (b *Batcher) isStopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}

func (b *Batcher) wasResolved() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resolved
}
