package e2ee

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultMuteTimeout is how long a decrypt pipe may stay silent before its
// source is reported muted.
const DefaultMuteTimeout = 3 * time.Second

// MuteDetector infers remote mute state from frame arrival. It starts muted;
// the first frame reports unmute, and a gap longer than the timeout reports
// mute. Each transition is reported exactly once.
type MuteDetector struct {
	clock   clock.Clock
	timeout time.Duration
	notify  func(muted bool)

	mu      sync.Mutex
	muted   bool
	timer   *clock.Timer
	gen     uint64
	stopped bool
}

func NewMuteDetector(clk clock.Clock, timeout time.Duration, notify func(muted bool)) *MuteDetector {
	if clk == nil {
		clk = clock.New()
	}
	if timeout <= 0 {
		timeout = DefaultMuteTimeout
	}
	return &MuteDetector{clock: clk, timeout: timeout, notify: notify, muted: true}
}

// Frame records the arrival of one frame.
func (d *MuteDetector) Frame() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	unmuted := d.muted
	d.muted = false
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.clock.AfterFunc(d.timeout, func() { d.lapse(gen) })
	d.mu.Unlock()

	if unmuted && d.notify != nil {
		d.notify(false)
	}
}

func (d *MuteDetector) lapse(gen uint64) {
	d.mu.Lock()
	if d.stopped || gen != d.gen || d.muted {
		d.mu.Unlock()
		return
	}
	d.muted = true
	d.mu.Unlock()

	if d.notify != nil {
		d.notify(true)
	}
}

func (d *MuteDetector) Muted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.muted
}

// Stop cancels the pending timer; no further transitions are reported.
func (d *MuteDetector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
