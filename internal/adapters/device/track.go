package device

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dkeye/webcall/internal/domain"
)

// fileTrack plays a media file as a capture track, paced by frame durations
// and restarted from the top at the end.
type fileTrack struct {
	id    string
	kind  domain.MediaKind
	path  string
	open  opener
	clock clock.Clock
	log   zerolog.Logger

	enabled  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once

	mu   sync.Mutex
	src  frameSource
	next time.Time
}

func newFileTrack(kind domain.MediaKind, label, path string, open opener, clk clock.Clock, log zerolog.Logger) (*fileTrack, error) {
	src, err := open(path)
	if err != nil {
		return nil, err
	}
	t := &fileTrack{
		id:    label + "-" + uuid.NewString(),
		kind:  kind,
		path:  path,
		open:  open,
		clock: clk,
		log:   log,
		done:  make(chan struct{}),
		src:   src,
	}
	t.enabled.Store(true)
	return t, nil
}

func (t *fileTrack) ID() string             { return t.id }
func (t *fileTrack) Kind() domain.MediaKind { return t.kind }
func (t *fileTrack) Enabled() bool          { return t.enabled.Load() }
func (t *fileTrack) SetEnabled(on bool)     { t.enabled.Store(on) }

func (t *fileTrack) ReadFrame(ctx context.Context) (domain.EncodedFrame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped() {
		return domain.EncodedFrame{}, io.EOF
	}

	f, err := t.src.next()
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		if err = t.rewind(); err == nil {
			f, err = t.src.next()
		}
	}
	if err != nil {
		return domain.EncodedFrame{}, err
	}

	now := t.clock.Now()
	if wait := t.next.Sub(now); wait > 0 {
		timer := t.clock.Timer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return domain.EncodedFrame{}, ctx.Err()
		case <-t.done:
			timer.Stop()
			return domain.EncodedFrame{}, io.EOF
		}
	} else {
		t.next = now
	}
	t.next = t.next.Add(f.Duration)
	return f, nil
}

func (t *fileTrack) rewind() error {
	_ = t.src.Close()
	src, err := t.open(t.path)
	if err != nil {
		return err
	}
	t.src = src
	t.log.Debug().Str("track", t.id).Msg("looping media file")
	return nil
}

func (t *fileTrack) stopped() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *fileTrack) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)
		t.mu.Lock()
		defer t.mu.Unlock()
		_ = t.src.Close()
	})
}
