package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/webcall/internal/core"
	"github.com/dkeye/webcall/internal/domain"
)

var ErrNoSelectedPair = errors.New("no selected candidate pair")

// streamID groups every local track of a connection into one stream.
const streamID = "webcall"

// Connection adapts a pion peer connection to core.PeerConnection.
type Connection struct {
	api      *webrtc.API
	pc       *webrtc.PeerConnection
	codecs   map[domain.MediaKind][]webrtc.RTPCodecParameters
	encoded  bool
	playback PlaybackFunc
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	wrapped map[*webrtc.RTPTransceiver]*transceiver
	onICE   func(*webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)
	onTrack func(core.RemoteTrack, core.Transceiver)
}

func newConnection(f *Factory, pc *webrtc.PeerConnection, encoded bool) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		api:      f.api,
		pc:       pc,
		codecs:   f.codecs,
		encoded:  encoded,
		playback: f.playback,
		log:      log.With().Str("module", "webrtc").Str("conn", uuid.NewString()).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		wrapped:  make(map[*webrtc.RTPTransceiver]*transceiver),
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.log.Info().Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.log.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		c.mu.Lock()
		h := c.onState
		c.mu.Unlock()
		if h != nil {
			h(s)
		}
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		c.mu.Lock()
		h := c.onICE
		c.mu.Unlock()
		if h == nil {
			return
		}
		if cand == nil {
			h(nil)
			return
		}
		ci := cand.ToJSON()
		h(&ci)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, r *webrtc.RTPReceiver) {
		c.log.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		t := c.transceiverForReceiver(r)
		if t == nil {
			c.log.Warn().Str("track_id", track.ID()).Msg("track without transceiver")
			return
		}
		c.mu.Lock()
		h := c.onTrack
		c.mu.Unlock()
		if h != nil {
			h(remoteTrack{t: track}, t)
		}
		// The handler attaches the decrypt transform; reading starts after it.
		go t.receiver.run(c.ctx, track)
	})

	return c
}

func (c *Connection) newSampleTrack(kind domain.MediaKind) (*webrtc.TrackLocalStaticSample, error) {
	list := c.codecs[kind]
	if len(list) == 0 {
		return nil, fmt.Errorf("no codec registered for %s", kind)
	}
	return webrtc.NewTrackLocalStaticSample(list[0].RTPCodecCapability, string(kind)+"-"+uuid.NewString(), streamID)
}

// wrap returns the wrapper of tr, creating it on first sight. Transceivers
// created by a remote offer get their sample track here.
func (c *Connection) wrap(tr *webrtc.RTPTransceiver, out *webrtc.TrackLocalStaticSample) (*transceiver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.wrapped[tr]; ok {
		return t, nil
	}
	kind := kindOf(tr.Kind())
	if out == nil {
		var err error
		if out, err = c.newSampleTrack(kind); err != nil {
			return nil, err
		}
	}
	tlog := c.log.With().Str("kind", string(kind)).Logger()
	t := &transceiver{
		conn:     c,
		tr:       tr,
		kind:     kind,
		out:      out,
		sender:   newSender(c.ctx, kind, out, c.encoded, tlog),
		receiver: newReceiver(kind, c.encoded, c.playback, tlog),
	}
	c.wrapped[tr] = t
	return t, nil
}

func (c *Connection) transceiverForReceiver(r *webrtc.RTPReceiver) *transceiver {
	for _, tr := range c.pc.GetTransceivers() {
		if tr.Receiver() == r {
			t, err := c.wrap(tr, nil)
			if err != nil {
				c.log.Error().Err(err).Msg("wrap transceiver")
				return nil
			}
			return t
		}
	}
	return nil
}

// AddTransceiver adds a sendrecv transceiver backed by a fresh sample track.
func (c *Connection) AddTransceiver(kind domain.MediaKind) (core.Transceiver, error) {
	out, err := c.newSampleTrack(kind)
	if err != nil {
		return nil, err
	}
	tr, err := c.pc.AddTransceiverFromTrack(out, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv})
	if err != nil {
		return nil, err
	}
	go drainRTCP(tr.Sender())
	return c.wrap(tr, out)
}

func (c *Connection) Transceivers() []core.Transceiver {
	trs := c.pc.GetTransceivers()
	out := make([]core.Transceiver, 0, len(trs))
	for _, tr := range trs {
		t, err := c.wrap(tr, nil)
		if err != nil {
			c.log.Error().Err(err).Msg("wrap transceiver")
			continue
		}
		out = append(out, t)
	}
	return out
}

func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *Connection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *Connection) SetLocalDescription(d webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(d)
}

func (c *Connection) SetRemoteDescription(d webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(d)
}

func (c *Connection) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *Connection) RemoteDescription() *webrtc.SessionDescription {
	return c.pc.RemoteDescription()
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) State() core.ConnectionState {
	return core.ConnectionState{
		ConnectionState:    c.pc.ConnectionState().String(),
		ICEConnectionState: c.pc.ICEConnectionState().String(),
		ICEGatheringState:  c.pc.ICEGatheringState().String(),
		SignalingState:     c.pc.SignalingState().String(),
	}
}

// ConnectionInfo reads the nominated candidate pair from the stats report.
func (c *Connection) ConnectionInfo() (*core.ConnectionInfo, error) {
	return connectionInfo(c.pc.GetStats())
}

func connectionInfo(report webrtc.StatsReport) (*core.ConnectionInfo, error) {
	var pair *webrtc.ICECandidatePairStats
	for _, s := range report {
		p, ok := s.(webrtc.ICECandidatePairStats)
		if ok && p.Nominated && p.State == webrtc.StatsICECandidatePairStateSucceeded {
			pair = &p
			break
		}
	}
	if pair == nil {
		return nil, ErrNoSelectedPair
	}
	return &core.ConnectionInfo{
		ICECandidatePair: core.CandidatePairStats{
			ID:                   pair.ID,
			LocalCandidateID:     pair.LocalCandidateID,
			RemoteCandidateID:    pair.RemoteCandidateID,
			State:                string(pair.State),
			Nominated:            pair.Nominated,
			CurrentRoundTripTime: pair.CurrentRoundTripTime,
		},
		LocalCandidate:  candidateStats(report, pair.LocalCandidateID),
		RemoteCandidate: candidateStats(report, pair.RemoteCandidateID),
	}, nil
}

func candidateStats(report webrtc.StatsReport, id string) *core.CandidateStats {
	s, ok := report[id].(webrtc.ICECandidateStats)
	if !ok {
		return nil
	}
	return &core.CandidateStats{
		ID:            s.ID,
		CandidateType: s.CandidateType.String(),
		Protocol:      s.Protocol,
		Address:       s.IP,
		Port:          int(s.Port),
		RelayProtocol: s.RelayProtocol,
	}
}

func (c *Connection) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = fn
}

func (c *Connection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// OnTrack sets application-level callback for remote tracks.
func (c *Connection) OnTrack(fn func(core.RemoteTrack, core.Transceiver)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

func (c *Connection) Close() error {
	c.cancel()
	c.mu.Lock()
	wrapped := make([]*transceiver, 0, len(c.wrapped))
	for _, t := range c.wrapped {
		wrapped = append(wrapped, t)
	}
	c.mu.Unlock()
	for _, t := range wrapped {
		t.close()
	}
	if err := c.pc.Close(); err != nil {
		c.log.Error().Err(err).Msg("close error")
		return err
	}
	c.log.Info().Msg("closed")
	return nil
}
