package call

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/webcall/internal/app/transform"
	"github.com/dkeye/webcall/internal/core"
	"github.com/dkeye/webcall/internal/domain"
	"github.com/dkeye/webcall/internal/e2ee"
)

type harness struct {
	ctrl    *Controller
	peers   *fakePeers
	devices *fakeDevices
	events  *eventLog
	clock   *clock.Mock
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ICEWaitCap = time.Second
	for _, m := range mutate {
		m(&cfg)
	}
	h := &harness{
		peers:   &fakePeers{},
		devices: &fakeDevices{},
		events:  &eventLog{},
		clock:   clock.NewMock(),
	}
	h.ctrl = NewController(cfg, h.peers, h.devices, h.events, WithClock(h.clock))
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) do(cmd core.Command) core.Response {
	return h.ctrl.ProcessCommand(context.Background(), cmd)
}

func requireError(t *testing.T, resp core.Response, msg string) {
	t.Helper()
	e, ok := resp.(core.ErrorResponse)
	require.True(t, ok, "expected error response, got %#v", resp)
	assert.Equal(t, msg, e.Message)
}

func remoteOffer() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 remote offer"}
}

func remoteAnswer(sdp string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
}

func remoteCandidates(n int) []webrtc.ICECandidateInit {
	out := make([]webrtc.ICECandidateInit, n)
	for i := range out {
		out[i] = webrtc.ICECandidateInit{Candidate: "candidate:remote typ host"}
	}
	return out
}

func TestStartReturnsOfferWithCandidates(t *testing.T) {
	h := newHarness(t)

	resp := h.do(core.CapabilitiesCommand{Media: domain.CallAudio})
	require.Equal(t, core.CapabilitiesResponse{Capabilities: core.CallCapabilities{Encryption: true}}, resp)
	assert.Equal(t, StateCapabilitiesOffered, h.ctrl.State())

	resp = h.do(core.StartCommand{Media: domain.CallAudio})
	offer, ok := resp.(core.OfferResponse)
	require.True(t, ok, "%#v", resp)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Offer.Type)
	assert.Len(t, offer.ICECandidates, 2)
	assert.True(t, offer.Capabilities.Encryption)
	assert.Equal(t, StateOffering, h.ctrl.State())

	pc := h.peers.last(t)
	require.Len(t, pc.transceivers, domain.SlotCount)
	for slot := 0; slot < domain.SlotCount; slot++ {
		tc := pc.transceiver(slot)
		assert.Equal(t, domain.SourceForSlot(slot).Kind(), tc.kind)
		assert.Equal(t, domain.MidForSlot(slot), tc.mid)
	}
	assert.NotNil(t, pc.transceiver(0).track, "mic is sent")
	assert.Nil(t, pc.transceiver(1).track, "audio call sends no camera")
	assert.Equal(t, webrtc.MimeTypeVP8, pc.transceiver(1).preferred)
	assert.Equal(t, webrtc.MimeTypeVP8, pc.transceiver(3).preferred)
	assert.Empty(t, pc.transceiver(0).preferred)

	sess := h.ctrl.Session()
	require.NotNil(t, sess)
	assert.True(t, sess.LocalMediaSources().Mic)
	assert.False(t, sess.LocalMediaSources().Camera)
}

func TestStartAdoptsPreview(t *testing.T) {
	h := newHarness(t)
	h.do(core.CapabilitiesCommand{Media: domain.CallVideo})
	require.Len(t, h.devices.opened, 2)
	assert.True(t, h.ctrl.InactiveMediaSources().Camera)

	h.do(core.StartCommand{Media: domain.CallVideo})
	require.Len(t, h.devices.opened, 2, "the preview stream becomes the call stream")

	pc := h.peers.last(t)
	assert.Equal(t, h.devices.opened[0], pc.transceiver(0).track)
	assert.Equal(t, h.devices.opened[1], pc.transceiver(1).track)
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t)
	h.do(core.StartCommand{Media: domain.CallAudio})
	requireError(t, h.do(core.StartCommand{Media: domain.CallAudio}), "start: call already started")
	requireError(t, h.do(core.OfferCommand{Offer: remoteOffer()}), "offer: call already started")
	assert.Equal(t, 1, h.peers.count())
}

func TestAnswerTwice(t *testing.T) {
	h := newHarness(t)
	h.do(core.StartCommand{Media: domain.CallAudio})
	pc := h.peers.last(t)

	resp := h.do(core.AnswerCommand{Answer: remoteAnswer("first"), ICECandidates: remoteCandidates(2)})
	require.Equal(t, core.OkResponse{}, resp)
	require.Equal(t, 2, pc.appliedCount())

	resp = h.do(core.AnswerCommand{Answer: remoteAnswer("second"), ICECandidates: remoteCandidates(3)})
	requireError(t, resp, "answer: remote description already set")
	assert.Equal(t, "first", pc.RemoteDescription().SDP)
	assert.Equal(t, 2, pc.appliedCount())
	assert.NotNil(t, h.ctrl.Session())
}

func TestAnswerWithoutCall(t *testing.T) {
	h := newHarness(t)
	requireError(t, h.do(core.AnswerCommand{Answer: remoteAnswer("x")}), "answer: call not started")
}

func TestICEBufferedUntilOffer(t *testing.T) {
	h := newHarness(t)

	resp := h.do(core.ICECommand{ICECandidates: remoteCandidates(2)})
	requireError(t, resp, "ice: call not started yet, will add candidates later")

	resp = h.do(core.OfferCommand{Offer: remoteOffer(), ICECandidates: remoteCandidates(1), Media: domain.CallAudio})
	answer, ok := resp.(core.AnswerResponse)
	require.True(t, ok, "%#v", resp)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Answer.Type)
	assert.Len(t, answer.ICECandidates, 2)

	pc := h.peers.last(t)
	assert.Equal(t, 3, pc.appliedCount())
	assert.Equal(t, StateAnswering, h.ctrl.State())

	require.Equal(t, core.OkResponse{}, h.do(core.ICECommand{ICECandidates: remoteCandidates(1)}))
	assert.Equal(t, 4, pc.appliedCount())
}

func TestCandidatesBeforeAnswerWaitForRemoteDescription(t *testing.T) {
	h := newHarness(t)
	h.do(core.StartCommand{Media: domain.CallAudio})
	pc := h.peers.last(t)

	require.Equal(t, core.OkResponse{}, h.do(core.ICECommand{ICECandidates: remoteCandidates(2)}))
	assert.Zero(t, pc.appliedCount())

	h.do(core.AnswerCommand{Answer: remoteAnswer("a"), ICECandidates: remoteCandidates(1)})
	assert.Equal(t, 3, pc.appliedCount())
}

func TestOfferForcesSendRecv(t *testing.T) {
	h := newHarness(t)
	h.do(core.CapabilitiesCommand{Media: domain.CallVideo})
	h.do(core.OfferCommand{Offer: remoteOffer(), Media: domain.CallVideo})

	pc := h.peers.last(t)
	require.Len(t, pc.transceivers, domain.SlotCount)
	for slot := 0; slot < domain.SlotCount; slot++ {
		assert.True(t, pc.transceiver(slot).sendRecv, "slot %d", slot)
	}
	assert.NotNil(t, pc.transceiver(0).track)
	assert.NotNil(t, pc.transceiver(1).track)
	assert.Nil(t, pc.transceiver(3).track)
	assert.Equal(t, webrtc.MimeTypeVP8, pc.transceiver(1).preferred)
}

func TestOfferEncryptionUnsupported(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Platform = transform.Platform{} })
	key, err := e2ee.NewKey()
	require.NoError(t, err)

	resp := h.do(core.OfferCommand{Offer: remoteOffer(), Media: domain.CallAudio, AESKey: key.Export()})
	requireError(t, resp, "offer: encryption is not supported")
	assert.Zero(t, h.peers.count())
	assert.Nil(t, h.ctrl.Session())
}

func TestStartDropsKeyWhenEncryptionUnsupported(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Platform = transform.Platform{} })
	key, err := e2ee.NewKey()
	require.NoError(t, err)

	resp := h.do(core.StartCommand{Media: domain.CallAudio, AESKey: key.Export()})
	offer, ok := resp.(core.OfferResponse)
	require.True(t, ok, "%#v", resp)
	assert.False(t, offer.Capabilities.Encryption)
	assert.False(t, h.ctrl.Session().encrypted())
	assert.False(t, h.peers.last(t).config.EncodedStreams)
}

func TestStartWithInvalidKey(t *testing.T) {
	h := newHarness(t)
	resp := h.do(core.StartCommand{Media: domain.CallAudio, AESKey: "c2hvcnQ"})
	e, ok := resp.(core.ErrorResponse)
	require.True(t, ok)
	assert.Contains(t, e.Message, "start: invalid aes key")
	assert.Nil(t, h.ctrl.Session())
	assert.True(t, h.peers.last(t).isClosed())
}

func TestEndThenCommands(t *testing.T) {
	h := newHarness(t)
	h.do(core.StartCommand{Media: domain.CallAudio})
	pc := h.peers.last(t)
	mic := h.devices.opened[0]

	require.Equal(t, core.OkResponse{}, h.do(core.EndCommand{}))
	assert.True(t, pc.isClosed())
	assert.True(t, mic.isStopped())
	assert.Nil(t, h.ctrl.Session())
	assert.Empty(t, h.events.ofType(core.RespEnded), "host-initiated end is not echoed")

	requireError(t, h.do(core.AnswerCommand{Answer: remoteAnswer("x")}), "answer: call not started")
	requireError(t, h.do(core.ICECommand{ICECandidates: remoteCandidates(1)}), "ice: call not started yet, will add candidates later")
	require.Equal(t, core.OkResponse{}, h.do(core.EndCommand{}))

	// A fresh call can start afterwards.
	_, ok := h.do(core.StartCommand{Media: domain.CallAudio}).(core.OfferResponse)
	assert.True(t, ok)
}

func TestCapabilitiesPreemptsCall(t *testing.T) {
	h := newHarness(t)
	h.do(core.StartCommand{Media: domain.CallAudio})
	first := h.peers.last(t)

	h.do(core.CapabilitiesCommand{Media: domain.CallAudio})
	assert.True(t, first.isClosed())
	assert.Nil(t, h.ctrl.Session())
	assert.Empty(t, h.events.ofType(core.RespEnded))
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t)
	requireError(t, h.do(core.UnknownCommand{Type: "dance"}), "unknown command")
}

func TestDescriptionAndLayout(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, core.OkResponse{}, h.do(core.DescriptionCommand{State: "connecting", Description: "Connecting"}))
	assert.Equal(t, "Connecting", h.ctrl.Description().Description)
	requireError(t, h.do(core.DescriptionCommand{}), "description: description state empty")

	require.Equal(t, core.OkResponse{}, h.do(core.LayoutCommand{Layout: domain.LayoutRemoteVideo}))
	h.do(core.StartCommand{Media: domain.CallAudio})
	require.Equal(t, core.OkResponse{}, h.do(core.LayoutCommand{Layout: domain.LayoutLocalVideo}))
	assert.Equal(t, domain.LayoutLocalVideo, h.ctrl.Session().layout)
}
