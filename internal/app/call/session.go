package call

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/webcall/internal/app/ice"
	"github.com/dkeye/webcall/internal/app/transform"
	"github.com/dkeye/webcall/internal/core"
	"github.com/dkeye/webcall/internal/domain"
	"github.com/dkeye/webcall/internal/e2ee"
)

// baselineCodec is the video codec whose header layout the plaintext prefix
// lengths are computed for.
const baselineCodec = webrtc.MimeTypeVP8

// PendingCallConfig holds the preview captured before a call exists. Its
// stream is adopted by the next session.
type PendingCallConfig struct {
	localCamera domain.VideoCamera
	localStream []core.LocalTrack
}

func (p *PendingCallConfig) stop() {
	for _, t := range p.localStream {
		t.Stop()
	}
	p.localStream = nil
}

// Session is one call attempt. It is created once and never reused.
type Session struct {
	id  domain.CallID
	log zerolog.Logger
	pc  core.PeerConnection

	batcher *ice.Batcher
	runner  transform.Runner
	aesKey  string
	key     *e2ee.Key

	localStream        Stream[core.LocalTrack]
	localScreenStream  Stream[core.LocalTrack]
	remoteStream       Stream[core.RemoteTrack]
	remoteScreenStream Stream[core.RemoteTrack]

	localMediaSources       domain.MediaSources
	localCamera             domain.VideoCamera
	cameraTrackWasSetBefore bool
	layout                  domain.LayoutType

	// pendingRemote holds remote candidates received before the remote
	// description was applied.
	pendingRemote []webrtc.ICECandidateInit

	answerTimer *clock.Timer

	// mu guards state touched from media callbacks.
	mu               sync.Mutex
	peerMediaSources domain.MediaSources

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *Session) ID() domain.CallID { return s.id }

func (s *Session) encrypted() bool { return s.key != nil && s.runner != nil }

// addSlotTransceivers creates the four transceivers in slot order. Screen
// slots are reserved even while nothing is shared.
func (s *Session) addSlotTransceivers() error {
	for slot := 0; slot < domain.SlotCount; slot++ {
		if _, err := s.pc.AddTransceiver(domain.SourceForSlot(slot).Kind()); err != nil {
			return err
		}
	}
	return nil
}

// attachLocalTracks puts the local mic and camera on their slots. The
// answering side first turns every transceiver created by the remote offer
// into sendrecv.
func (s *Session) attachLocalTracks(answering bool) error {
	if answering {
		for _, t := range s.pc.Transceivers() {
			if err := t.SetSendRecv(); err != nil {
				return err
			}
		}
	}
	if err := s.replaceOnSlot(domain.SourceMic, first(s.localStream.AudioTracks())); err != nil {
		return err
	}
	return s.replaceOnSlot(domain.SourceCamera, first(s.localStream.VideoTracks()))
}

// preferBaselineCodec puts VP8 first on the video slots. Transceivers are
// addressed by position since mids may not be assigned yet.
func (s *Session) preferBaselineCodec() {
	for i, t := range s.pc.Transceivers() {
		src := domain.SourceForSlot(i)
		if src.Kind() != domain.KindVideo {
			continue
		}
		if err := t.PreferCodec(baselineCodec); err != nil {
			s.log.Warn().Err(err).Str("source", string(src)).Msg("failed to set codec preferences, using defaults")
		}
	}
}

// setupEncryptionForLocalStream wires encryption on every sender. It runs
// after the local description is set so mids are stable.
func (s *Session) setupEncryptionForLocalStream() {
	if !s.encrypted() {
		return
	}
	s.log.Info().Msg("set up encryption for sending")
	for i, t := range s.pc.Transceivers() {
		s.setupTransform(transform.Encrypt, t.Sender(), strconv.Itoa(i), domain.SourceForSlot(i).Kind())
	}
}

func (s *Session) setupTransform(op transform.Operation, ep core.Endpoint, mid string, kind domain.MediaKind) {
	if ep == nil {
		return
	}
	media := domain.CallAudio
	if kind == domain.KindVideo {
		media = domain.CallVideo
	}
	err := s.runner.Setup(op, ep, transform.Options{Key: s.key, AESKey: s.aesKey, Mid: mid, Media: media})
	if err != nil && !errors.Is(err, transform.ErrNoTransform) {
		s.log.Error().Err(err).Str("op", string(op)).Str("mid", mid).Msg("transform setup failed")
	}
}

// onTrack wires decryption for an incoming track and files it under the
// camera or screen stream by its slot.
func (s *Session) onTrack(remote core.RemoteTrack, t core.Transceiver) {
	mid := t.Mid()
	if s.encrypted() {
		s.log.Info().Str("mid", mid).Msg("set up decryption for receiving")
		s.setupTransform(transform.Decrypt, t.Receiver(), mid, remote.Kind())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if domain.SourceForMid(mid).IsScreen() {
		s.remoteScreenStream.Add(remote)
	} else {
		s.remoteStream.Add(remote)
	}
}

// transceiverFor finds the transceiver of a source by mid, falling back to
// position before mids are assigned.
func (s *Session) transceiverFor(src domain.MediaSource) core.Transceiver {
	ts := s.pc.Transceivers()
	for _, t := range ts {
		if t.Mid() != "" && domain.SourceForMid(t.Mid()) == src {
			return t
		}
	}
	if slot, ok := domain.SlotForSource(src); ok && slot < len(ts) && ts[slot].Mid() == "" {
		return ts[slot]
	}
	return nil
}

func (s *Session) replaceOnSlot(src domain.MediaSource, t core.LocalTrack) error {
	tc := s.transceiverFor(src)
	if tc == nil {
		return nil
	}
	return tc.ReplaceTrack(t)
}

// addRemoteCandidates applies candidates, or keeps them until the remote
// description is set. Individual failures are logged.
func (s *Session) addRemoteCandidates(cs []webrtc.ICECandidateInit) {
	if s.pc.RemoteDescription() == nil {
		s.pendingRemote = append(s.pendingRemote, cs...)
		return
	}
	for _, c := range cs {
		if err := s.pc.AddICECandidate(c); err != nil {
			s.log.Warn().Err(err).Str("candidate", c.Candidate).Msg("add ice candidate")
		}
	}
}

func (s *Session) setRemoteDescription(d webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(d); err != nil {
		return err
	}
	pending := s.pendingRemote
	s.pendingRemote = nil
	s.addRemoteCandidates(pending)
	return nil
}

// setPeerMedia records an inferred remote mute change and reports whether
// the flag actually changed.
func (s *Session) setPeerMedia(src domain.MediaSource, muted bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peerMediaSources.Get(src) != muted {
		return false
	}
	s.peerMediaSources.Set(src, !muted)
	return true
}

func (s *Session) PeerMediaSources() domain.MediaSources {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerMediaSources
}

func (s *Session) LocalMediaSources() domain.MediaSources {
	return s.localMediaSources
}

func (s *Session) stopAnswerTimer() {
	if s.answerTimer != nil {
		s.answerTimer.Stop()
	}
}

// Close releases everything the session owns. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.stopAnswerTimer()
		if s.batcher != nil {
			s.batcher.Stop()
		}
		if s.runner != nil {
			s.runner.Close()
		}
		if err := s.pc.Close(); err != nil {
			s.log.Error().Err(err).Msg("close error")
		}
		for _, t := range s.localStream.Clear() {
			t.Stop()
		}
		for _, t := range s.localScreenStream.Clear() {
			t.Stop()
		}
		s.log.Info().Msg("closed")
	})
}

func first[T any](xs []T) T {
	var zero T
	if len(xs) == 0 {
		return zero
	}
	return xs[0]
}
