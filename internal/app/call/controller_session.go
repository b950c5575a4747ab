package call

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/webcall/internal/app/ice"
	"github.com/dkeye/webcall/internal/app/transform"
	"github.com/dkeye/webcall/internal/core"
	"github.com/dkeye/webcall/internal/domain"
	"github.com/dkeye/webcall/internal/e2ee"
)

type callParams struct {
	media      domain.CallMediaType
	aesKey     string
	iceServers []webrtc.ICEServer
	relay      bool
}

func (c *Controller) encryptionSupported() bool {
	return c.cfg.Platform.EncryptionSupported(c.cfg.UseWorker)
}

// capabilities ends any running call, opens a preview and reports whether
// calls can be encrypted.
func (c *Controller) capabilities(ctx context.Context, cmd core.CapabilitiesCommand) (core.Response, error) {
	c.log.Info().Msg("starting outgoing call - capabilities")
	if sess := c.Session(); sess != nil {
		c.endSession(sess, false)
	}

	// Preview failures are shown later, when the call itself opens devices.
	preview, err := c.getLocalMediaStream(ctx, true, cmd.Media == domain.CallVideo, domain.CameraUser)
	if err != nil {
		c.log.Warn().Err(err).Msg("preview not available")
	}

	c.mu.Lock()
	old := c.pending
	c.pending = &PendingCallConfig{localCamera: domain.CameraUser, localStream: preview}
	c.inactive.Mic = hasKind(preview, domain.KindAudio)
	c.inactive.Camera = hasKind(preview, domain.KindVideo)
	c.runnerKind = transform.Choose(c.cfg.UseWorker, c.cfg.Platform)
	c.state = StateCapabilitiesOffered
	c.mu.Unlock()
	if old != nil {
		old.stop()
	}

	return core.CapabilitiesResponse{Capabilities: core.CallCapabilities{Encryption: c.encryptionSupported()}}, nil
}

// start opens the caller side: four slot transceivers, an offer and the
// first ICE batch.
func (c *Controller) start(ctx context.Context, cmd core.StartCommand) (core.Response, error) {
	if c.Session() != nil {
		return nil, ErrAlreadyStarted
	}
	c.mu.Lock()
	c.inactive.Mic = true
	c.inactive.Camera = cmd.Media == domain.CallVideo
	c.mu.Unlock()

	encryption := c.encryptionSupported()
	aesKey := ""
	if encryption {
		aesKey = cmd.AESKey
	}
	sess, err := c.initializeCall(ctx, callParams{media: cmd.Media, aesKey: aesKey, iceServers: cmd.ICEServers, relay: cmd.Relay})
	if err != nil {
		return nil, err
	}
	c.setState(StateOffering)

	offer, err := c.startOffer(sess)
	if err != nil {
		c.endSession(sess, false)
		return nil, err
	}
	c.applyBufferedCandidates(sess)

	candidates, err := c.waitCandidates(ctx, sess)
	if err != nil {
		return nil, err
	}
	return core.OfferResponse{
		Offer:         offer,
		ICECandidates: candidates,
		Capabilities:  core.CallCapabilities{Encryption: encryption},
	}, nil
}

func (c *Controller) startOffer(sess *Session) (webrtc.SessionDescription, error) {
	if err := sess.addSlotTransceivers(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := sess.attachLocalTracks(false); err != nil {
		return webrtc.SessionDescription{}, err
	}
	sess.preferBaselineCodec()
	offer, err := sess.pc.CreateOffer()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := sess.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	// Senders get their mids with the local description.
	sess.setupEncryptionForLocalStream()
	return offer, nil
}

// offer opens the answering side from a remote offer.
func (c *Controller) offer(ctx context.Context, cmd core.OfferCommand) (core.Response, error) {
	if c.Session() != nil {
		return nil, ErrAlreadyStarted
	}
	if cmd.AESKey != "" && !c.encryptionSupported() {
		return nil, ErrEncryptionUnsupported
	}
	sess, err := c.initializeCall(ctx, callParams{media: cmd.Media, aesKey: cmd.AESKey, iceServers: cmd.ICEServers, relay: cmd.Relay})
	if err != nil {
		return nil, err
	}
	c.setState(StateAnswering)

	answer, err := c.acceptOffer(sess, cmd.Offer)
	if err != nil {
		c.endSession(sess, false)
		return nil, err
	}
	sess.addRemoteCandidates(cmd.ICECandidates)
	c.applyBufferedCandidates(sess)

	candidates, err := c.waitCandidates(ctx, sess)
	if err != nil {
		return nil, err
	}
	return core.AnswerResponse{Answer: answer, ICECandidates: candidates}, nil
}

func (c *Controller) acceptOffer(sess *Session, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := sess.setRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	// The remote offer created the transceivers; reuse them for sending.
	if err := sess.attachLocalTracks(true); err != nil {
		return webrtc.SessionDescription{}, err
	}
	sess.setupEncryptionForLocalStream()
	sess.preferBaselineCodec()
	answer, err := sess.pc.CreateAnswer()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := sess.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (c *Controller) answer(cmd core.AnswerCommand) (core.Response, error) {
	sess := c.Session()
	if sess == nil {
		return nil, ErrNotStarted
	}
	if sess.pc.LocalDescription() == nil {
		return nil, ErrNoLocalDescription
	}
	if sess.pc.RemoteDescription() != nil {
		return nil, ErrAlreadyAnswered
	}
	if err := sess.setRemoteDescription(cmd.Answer); err != nil {
		return nil, err
	}
	sess.addRemoteCandidates(cmd.ICECandidates)
	c.applyBufferedCandidates(sess)
	return core.OkResponse{}, nil
}

func (c *Controller) iceCandidates(cmd core.ICECommand) (core.Response, error) {
	if sess := c.Session(); sess != nil {
		sess.addRemoteCandidates(cmd.ICECandidates)
		return core.OkResponse{}, nil
	}
	c.mu.Lock()
	c.remoteCandidates = append(c.remoteCandidates, cmd.ICECandidates...)
	c.mu.Unlock()
	return nil, ErrCallNotStartedYet
}

func (c *Controller) applyBufferedCandidates(sess *Session) {
	c.mu.Lock()
	buffered := c.remoteCandidates
	c.remoteCandidates = nil
	c.mu.Unlock()
	if len(buffered) > 0 {
		sess.log.Debug().Int("candidates", len(buffered)).Msg("applying buffered candidates")
		sess.addRemoteCandidates(buffered)
	}
}

// waitCandidates returns the first local ICE batch. Hitting the wait cap is
// not an error: late candidates follow as ice events.
func (c *Controller) waitCandidates(ctx context.Context, sess *Session) ([]webrtc.ICECandidateInit, error) {
	wctx, cancel := context.WithTimeout(ctx, c.cfg.ICEWaitCap)
	defer cancel()
	candidates, err := sess.batcher.Wait(wctx)
	switch {
	case err == nil:
		return candidates, nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		sess.log.Warn().Int("candidates", len(candidates)).Msg("ice wait cap reached")
		return candidates, nil
	case errors.Is(err, ice.ErrStopped):
		return nil, ErrNotStarted
	default:
		return nil, err
	}
}

// initializeCall creates the session, adopting the preview stream when one
// exists, and wires every connection callback to it.
func (c *Controller) initializeCall(ctx context.Context, p callParams) (*Session, error) {
	servers := p.iceServers
	if len(servers) == 0 {
		servers = c.cfg.ICEServers
	}
	pc, err := c.peers.NewPeerConnection(core.PeerConfig{
		ICEServers:        servers,
		Relay:             p.relay || c.cfg.Relay,
		CandidatePoolSize: c.cfg.CandidatePoolSize,
		EncodedStreams:    p.aesKey != "",
	})
	if err != nil {
		return nil, err
	}

	id := domain.NewCallID()
	sess := &Session{
		id:                      id,
		log:                     c.log.With().Str("call", string(id)).Logger(),
		pc:                      pc,
		aesKey:                  p.aesKey,
		localCamera:             domain.CameraUser,
		layout:                  domain.LayoutDefault,
		cameraTrackWasSetBefore: p.media == domain.CallVideo,
	}
	sess.ctx, sess.cancel = context.WithCancel(context.Background())

	if p.aesKey != "" {
		key, err := e2ee.ImportKey(p.aesKey)
		if err != nil {
			_ = pc.Close()
			sess.cancel()
			return nil, err
		}
		sess.key = key
	}

	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	inactive := c.inactive
	kind := c.runnerKind
	c.mu.Unlock()
	if kind == "" {
		kind = transform.Choose(c.cfg.UseWorker, c.cfg.Platform)
	}

	var tracks []core.LocalTrack
	if pending != nil && pending.localCamera.Valid() {
		sess.localCamera = pending.localCamera
	}
	if pending != nil && len(pending.localStream) > 0 {
		tracks = pending.localStream
	} else {
		tracks, err = c.getLocalMediaStream(ctx, inactive.Mic, inactive.Camera, sess.localCamera)
		if err != nil {
			sess.log.Warn().Err(err).Msg("error while getting local media stream")
			c.emit(core.PermissionsResponse{Media: p.media})
		}
	}
	for _, t := range tracks {
		sess.localStream.Add(t)
	}
	sess.localMediaSources = domain.MediaSources{
		Mic:    len(sess.localStream.AudioTracks()) > 0,
		Camera: len(sess.localStream.VideoTracks()) > 0,
	}

	if sess.key != nil {
		sess.runner = transform.New(kind, transform.Deps{
			Hooks: transform.Hooks{
				OnMute:  func(mid string, muted bool) { c.onMediaMuteUnmute(sess, mid, muted) },
				OnError: func(mid string, err error) { go c.onTransformError(sess, mid, err) },
			},
			Clock:       c.clock,
			MuteTimeout: c.cfg.MuteTimeout,
		})
	}
	sess.batcher = ice.NewBatcher(c.cfg.ICE, c.clock, func(batch []webrtc.ICECandidateInit) {
		if c.current(sess) {
			c.emit(core.ICEResponse{ICECandidates: batch})
		}
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidateInit) {
		if cand == nil {
			sess.batcher.GatheringComplete()
			return
		}
		sess.batcher.Add(*cand)
	})
	pc.OnTrack(func(remote core.RemoteTrack, t core.Transceiver) {
		if c.current(sess) {
			sess.onTrack(remote, t)
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.onConnectionStateChange(sess, s)
	})

	c.mu.Lock()
	c.call = sess
	c.mu.Unlock()

	sess.answerTimer = c.clock.AfterFunc(c.cfg.AnswerTimeout, func() { c.onAnswerTimeout(sess) })
	sess.log.Info().Str("media", string(p.media)).Bool("encrypted", sess.encrypted()).Str("runner", string(kind)).Msg("call initialized")
	return sess, nil
}

// endCall closes the active call without notifying the host.
func (c *Controller) endCall() {
	if sess := c.Session(); sess != nil {
		c.endSession(sess, false)
	}
	c.mu.Lock()
	c.remoteCandidates = nil
	c.mu.Unlock()
}

// endSession tears sess down if it is still the active call. Callers hold
// cmdMu. With notify the host receives an ended event.
func (c *Controller) endSession(sess *Session, notify bool) bool {
	c.mu.Lock()
	if c.call != sess {
		c.mu.Unlock()
		return false
	}
	c.call = nil
	c.state = StateEnded
	c.mu.Unlock()

	if notify {
		c.emit(core.EndedResponse{})
	}
	sess.Close()
	return true
}

// terminate ends sess from an async path and notifies the host.
func (c *Controller) terminate(sess *Session, reason string) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if c.endSession(sess, true) {
		sess.log.Info().Str("reason", reason).Msg("call ended")
	}
}

func (c *Controller) onConnectionStateChange(sess *Session, s webrtc.PeerConnectionState) {
	if !c.current(sess) || s == webrtc.PeerConnectionStateClosed {
		return
	}
	c.connectionHandler(sess, s)
}

// connectionHandler reports the connection state and reacts to terminal and
// connected states.
func (c *Controller) connectionHandler(sess *Session, s webrtc.PeerConnectionState) {
	c.emit(core.ConnectionResponse{State: sess.pc.State()})

	switch s {
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		sess.stopAnswerTimer()
		c.terminate(sess, s.String())
	case webrtc.PeerConnectionStateConnected:
		sess.stopAnswerTimer()
		c.setState(StateConnected)
		info, err := sess.pc.ConnectionInfo()
		if err != nil {
			sess.log.Warn().Err(err).Msg("no selected candidate pair")
			return
		}
		if c.current(sess) {
			c.emit(core.ConnectedResponse{ConnectionInfo: *info})
		}
	}
}

// onAnswerTimeout fires when the call has not connected in time.
func (c *Controller) onAnswerTimeout(sess *Session) {
	if !c.current(sess) {
		return
	}
	state := sess.pc.State()
	c.emit(core.ConnectionResponse{State: state})
	if state.ConnectionState == webrtc.PeerConnectionStateConnected.String() {
		return
	}
	c.terminate(sess, "answer timeout")
}

func (c *Controller) onTransformError(sess *Session, mid string, err error) {
	sess.log.Error().Err(err).Str("mid", mid).Msg("frame transform failed")
	c.terminate(sess, "transform error")
}

// onMediaMuteUnmute turns inferred remote mute changes into peerMedia events.
func (c *Controller) onMediaMuteUnmute(sess *Session, mid string, muted bool) {
	if !c.current(sess) {
		return
	}
	src := domain.SourceForMid(mid)
	if !src.Valid() {
		return
	}
	if !sess.setPeerMedia(src, muted) {
		return
	}
	media := domain.CallAudio
	if src.Kind() == domain.KindVideo {
		media = domain.CallVideo
	}
	c.emit(core.PeerMediaResponse{Media: media, Source: src, Enabled: !muted})
}
