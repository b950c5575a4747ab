package rtc

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"

	"github.com/dkeye/webcall/internal/core"
	"github.com/dkeye/webcall/internal/domain"
)

// sender feeds a transceiver's outgoing sample track from whichever local
// track is currently attached.
type sender struct {
	*tap
	out *webrtc.TrackLocalStaticSample
	ctx context.Context
	log zerolog.Logger

	mu     sync.Mutex
	source core.LocalTrack
	cancel context.CancelFunc
}

func newSender(ctx context.Context, kind domain.MediaKind, out *webrtc.TrackLocalStaticSample, encoded bool, log zerolog.Logger) *sender {
	s := &sender{out: out, ctx: ctx, log: log}
	s.tap = newTap(kind, encoded, s.write)
	return s
}

func (s *sender) write(f domain.EncodedFrame) error {
	err := s.out.WriteSample(media.Sample{Data: f.Data, Duration: f.Duration})
	if errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}

// replace swaps the source track; nil stops sending.
func (s *sender) replace(track core.LocalTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.source = track
	if track == nil {
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancel = cancel
	go s.pump(ctx, track)
}

func (s *sender) current() core.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

func (s *sender) pump(ctx context.Context, track core.LocalTrack) {
	for {
		f, err := track.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				s.log.Warn().Err(err).Str("track", track.ID()).Msg("local track read failed")
			}
			return
		}
		// Disabled tracks keep capturing but send nothing.
		if !track.Enabled() {
			continue
		}
		if f.Type == "" {
			f.Type = domain.FrameTypeFor(s.kind, f.Data)
		}
		if _, err := s.deliver(f); err != nil {
			s.log.Debug().Err(err).Msg("write sample")
		}
	}
}

func (s *sender) stop() {
	s.replace(nil)
	s.tap.close()
}
