package rtc

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
	"github.com/rs/zerolog"

	"github.com/dkeye/webcall/internal/domain"
)

// sampleMaxLate is how many packets the sample builder waits for a gap.
const sampleMaxLate = 128

// PlaybackFunc receives every frame that reaches the decoder side of a
// receiver.
type PlaybackFunc func(trackID string, f domain.EncodedFrame)

// receiver depacketizes a remote track into frames.
type receiver struct {
	*tap
	log      zerolog.Logger
	playback PlaybackFunc
	trackID  atomic.Value

	frames  atomic.Uint64
	dropped atomic.Uint64
}

func newReceiver(kind domain.MediaKind, encoded bool, playback PlaybackFunc, log zerolog.Logger) *receiver {
	r := &receiver{log: log, playback: playback}
	r.trackID.Store("")
	r.tap = newTap(kind, encoded, r.play)
	return r
}

func (r *receiver) play(f domain.EncodedFrame) error {
	r.frames.Add(1)
	if r.playback != nil {
		r.playback(r.trackID.Load().(string), f)
	}
	return nil
}

func depacketizerFor(mime string) (rtp.Depacketizer, bool) {
	switch {
	case strings.EqualFold(mime, webrtc.MimeTypeVP8):
		return &codecs.VP8Packet{}, true
	case strings.EqualFold(mime, webrtc.MimeTypeVP9):
		return &codecs.VP9Packet{}, true
	case strings.EqualFold(mime, webrtc.MimeTypeOpus):
		return &codecs.OpusPacket{}, true
	}
	return nil, false
}

// run reads the remote track until it ends.
func (r *receiver) run(ctx context.Context, track *webrtc.TrackRemote) {
	r.trackID.Store(track.ID())
	codec := track.Codec()
	depacketizer, ok := depacketizerFor(codec.MimeType)
	if !ok {
		r.log.Warn().Str("codec", codec.MimeType).Msg("unsupported codec, track ignored")
		return
	}
	sb := samplebuilder.New(sampleMaxLate, depacketizer, codec.ClockRate)
	for ctx.Err() == nil {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.log.Debug().Err(err).Msg("remote track read stopped")
			}
			return
		}
		sb.Push(pkt)
		for s := sb.Pop(); s != nil; s = sb.Pop() {
			f := domain.EncodedFrame{
				Type:      domain.FrameTypeFor(r.kind, s.Data),
				Data:      s.Data,
				Timestamp: s.PacketTimestamp,
				Duration:  s.Duration,
			}
			delivered, err := r.deliver(f)
			if !delivered {
				r.dropped.Add(1)
			}
			if err != nil {
				r.log.Debug().Err(err).Msg("deliver frame")
			}
		}
	}
}
