package rtc

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/webcall/internal/core"
	"github.com/dkeye/webcall/internal/domain"
)

func kindOf(k webrtc.RTPCodecType) domain.MediaKind {
	if k == webrtc.RTPCodecTypeVideo {
		return domain.KindVideo
	}
	return domain.KindAudio
}

func codecTypeOf(k domain.MediaKind) webrtc.RTPCodecType {
	if k == domain.KindVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

// transceiver wraps one pion transceiver together with the sample track it
// sends from and the pumps of both directions.
type transceiver struct {
	conn     *Connection
	tr       *webrtc.RTPTransceiver
	kind     domain.MediaKind
	out      *webrtc.TrackLocalStaticSample
	sender   *sender
	receiver *receiver
}

func (t *transceiver) Mid() string            { return t.tr.Mid() }
func (t *transceiver) Kind() domain.MediaKind { return t.kind }
func (t *transceiver) Sender() core.Endpoint  { return t.sender }

func (t *transceiver) Receiver() core.Endpoint { return t.receiver }

// SetSendRecv attaches the sample track to a transceiver created by a remote
// offer, which turns its direction from recvonly to sendrecv.
func (t *transceiver) SetSendRecv() error {
	if t.tr.Sender() != nil {
		return nil
	}
	s, err := t.conn.api.NewRTPSender(t.out, t.conn.pc.SCTP().Transport())
	if err != nil {
		return fmt.Errorf("new rtp sender: %w", err)
	}
	if err := t.tr.SetSender(s, t.out); err != nil {
		_ = s.Stop()
		return fmt.Errorf("set sender: %w", err)
	}
	go drainRTCP(s)
	return nil
}

func (t *transceiver) ReplaceTrack(lt core.LocalTrack) error {
	if t.tr.Sender() == nil {
		return fmt.Errorf("transceiver %q does not send", t.Mid())
	}
	if lt != nil && lt.Kind() != t.kind {
		return fmt.Errorf("cannot send %s track on %s transceiver", lt.Kind(), t.kind)
	}
	t.sender.replace(lt)
	return nil
}

// PreferCodec reorders the registered codecs of this kind so mimeType leads.
func (t *transceiver) PreferCodec(mimeType string) error {
	registered := t.conn.codecs[t.kind]
	ordered := make([]webrtc.RTPCodecParameters, 0, len(registered))
	for _, c := range registered {
		if strings.EqualFold(c.MimeType, mimeType) {
			ordered = append(ordered, c)
		}
	}
	if len(ordered) == 0 {
		return fmt.Errorf("codec %s not registered for %s", mimeType, t.kind)
	}
	for _, c := range registered {
		if !strings.EqualFold(c.MimeType, mimeType) {
			ordered = append(ordered, c)
		}
	}
	return t.tr.SetCodecPreferences(ordered)
}

func (t *transceiver) close() {
	t.sender.stop()
	t.receiver.close()
}

// drainRTCP keeps interceptors fed until the sender stops.
func drainRTCP(s *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := s.Read(buf); err != nil {
			return
		}
	}
}

type remoteTrack struct {
	t *webrtc.TrackRemote
}

func (r remoteTrack) ID() string             { return r.t.ID() }
func (r remoteTrack) Kind() domain.MediaKind { return kindOf(r.t.Kind()) }
