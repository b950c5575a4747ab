package call

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/webcall/internal/core"
	"github.com/dkeye/webcall/internal/domain"
)

// frameStream is an in-memory frame pipe.
type frameStream struct {
	ch     chan domain.EncodedFrame
	closed chan struct{}
	once   sync.Once
}

func newFrameStream() *frameStream {
	return &frameStream{ch: make(chan domain.EncodedFrame, 16), closed: make(chan struct{})}
}

func (s *frameStream) ReadFrame(ctx context.Context) (domain.EncodedFrame, error) {
	select {
	case f := <-s.ch:
		return f, nil
	case <-s.closed:
		return domain.EncodedFrame{}, io.EOF
	case <-ctx.Done():
		return domain.EncodedFrame{}, ctx.Err()
	}
}

func (s *frameStream) WriteFrame(f domain.EncodedFrame) error {
	select {
	case s.ch <- f:
		return nil
	case <-s.closed:
		return io.ErrClosedPipe
	}
}

func (s *frameStream) close() { s.once.Do(func() { close(s.closed) }) }

type fakeEndpoint struct {
	kind domain.MediaKind
	in   *frameStream
	out  *frameStream

	mu    sync.Mutex
	taken bool
}

func newFakeEndpoint(kind domain.MediaKind) *fakeEndpoint {
	return &fakeEndpoint{kind: kind, in: newFrameStream(), out: newFrameStream()}
}

func (e *fakeEndpoint) Kind() domain.MediaKind { return e.kind }

func (e *fakeEndpoint) EncodedStreams() (core.FrameReader, core.FrameWriter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.taken {
		return nil, nil, errors.New("streams already taken")
	}
	e.taken = true
	return e.in, e.out, nil
}

func (e *fakeEndpoint) streamsTaken() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.taken
}

type fakeTransceiver struct {
	mid       string
	kind      domain.MediaKind
	sendRecv  bool
	track     core.LocalTrack
	preferred string
	sender    *fakeEndpoint
	receiver  *fakeEndpoint
}

func newFakeTransceiver(kind domain.MediaKind, mid string, sendRecv bool) *fakeTransceiver {
	return &fakeTransceiver{
		mid:      mid,
		kind:     kind,
		sendRecv: sendRecv,
		sender:   newFakeEndpoint(kind),
		receiver: newFakeEndpoint(kind),
	}
}

func (t *fakeTransceiver) Mid() string             { return t.mid }
func (t *fakeTransceiver) Kind() domain.MediaKind  { return t.kind }
func (t *fakeTransceiver) SetSendRecv() error      { t.sendRecv = true; return nil }
func (t *fakeTransceiver) Sender() core.Endpoint   { return t.sender }
func (t *fakeTransceiver) Receiver() core.Endpoint { return t.receiver }

func (t *fakeTransceiver) ReplaceTrack(lt core.LocalTrack) error {
	if !t.sendRecv {
		return errors.New("transceiver does not send")
	}
	t.track = lt
	return nil
}

func (t *fakeTransceiver) PreferCodec(mime string) error {
	if t.kind != domain.KindVideo {
		return errors.New("no video codecs on audio transceiver")
	}
	t.preferred = mime
	return nil
}

type fakePeer struct {
	mu           sync.Mutex
	config       core.PeerConfig
	transceivers []*fakeTransceiver
	local        *webrtc.SessionDescription
	remote       *webrtc.SessionDescription
	applied      []webrtc.ICECandidateInit
	state        webrtc.PeerConnectionState
	closed       bool

	onICE   func(*webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)
	onTrack func(core.RemoteTrack, core.Transceiver)
}

func (p *fakePeer) AddTransceiver(kind domain.MediaKind) (core.Transceiver, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := newFakeTransceiver(kind, "", true)
	p.transceivers = append(p.transceivers, t)
	return t, nil
}

func (p *fakePeer) Transceivers() []core.Transceiver {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.Transceiver, 0, len(p.transceivers))
	for _, t := range p.transceivers {
		out = append(out, t)
	}
	return out
}

func (p *fakePeer) transceiver(i int) *fakeTransceiver {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transceivers[i]
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, t := range p.transceivers {
		t.mid = strconv.Itoa(i)
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

// SetLocalDescription starts gathering: two host candidates, then done.
func (p *fakePeer) SetLocalDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	p.local = &d
	onICE := p.onICE
	p.mu.Unlock()
	if onICE != nil {
		for i := 0; i < 2; i++ {
			c := webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%d 1 udp 2122260223 192.168.1.%d 5000 typ host", i, i)}
			onICE(&c)
		}
		onICE(nil)
	}
	return nil
}

// SetRemoteDescription of an offer creates the remote peer's four slots.
func (p *fakePeer) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d.Type == webrtc.SDPTypeOffer && len(p.transceivers) == 0 {
		for slot := 0; slot < domain.SlotCount; slot++ {
			p.transceivers = append(p.transceivers,
				newFakeTransceiver(domain.SourceForSlot(slot).Kind(), strconv.Itoa(slot), false))
		}
	}
	p.remote = &d
	return nil
}

func (p *fakePeer) LocalDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

func (p *fakePeer) RemoteDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errors.New("remote description not set")
	}
	p.applied = append(p.applied, c)
	return nil
}

func (p *fakePeer) appliedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.applied)
}

func (p *fakePeer) State() core.ConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return core.ConnectionState{
		ConnectionState:    p.state.String(),
		ICEConnectionState: "checking",
		ICEGatheringState:  "complete",
		SignalingState:     "stable",
	}
}

func (p *fakePeer) ConnectionInfo() (*core.ConnectionInfo, error) {
	return &core.ConnectionInfo{
		ICECandidatePair: core.CandidatePairStats{ID: "pair", LocalCandidateID: "l", RemoteCandidateID: "r", State: "succeeded"},
		LocalCandidate:   &core.CandidateStats{ID: "l", CandidateType: "host", Protocol: "udp"},
		RemoteCandidate:  &core.CandidateStats{ID: "r", CandidateType: "srflx", Protocol: "udp"},
	}, nil
}

func (p *fakePeer) OnICECandidate(f func(*webrtc.ICECandidateInit)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICE = f
}

func (p *fakePeer) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = f
}

func (p *fakePeer) OnTrack(f func(core.RemoteTrack, core.Transceiver)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = f
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.state = webrtc.PeerConnectionStateClosed
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fire moves the connection to s and runs the state handler.
func (p *fakePeer) fire(s webrtc.PeerConnectionState) {
	p.mu.Lock()
	p.state = s
	h := p.onState
	p.mu.Unlock()
	if h != nil {
		h(s)
	}
}

func (p *fakePeer) deliverTrack(slot int) {
	p.mu.Lock()
	t := p.transceivers[slot]
	h := p.onTrack
	p.mu.Unlock()
	h(&fakeRemoteTrack{id: "remote-" + t.mid, kind: t.kind}, t)
}

type fakeRemoteTrack struct {
	id   string
	kind domain.MediaKind
}

func (t *fakeRemoteTrack) ID() string             { return t.id }
func (t *fakeRemoteTrack) Kind() domain.MediaKind { return t.kind }

type fakePeers struct {
	mu    sync.Mutex
	peers []*fakePeer
}

func (f *fakePeers) NewPeerConnection(cfg core.PeerConfig) (core.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePeer{config: cfg, state: webrtc.PeerConnectionStateNew}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakePeers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *fakePeers) last(t *testing.T) *fakePeer {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.peers)
	return f.peers[len(f.peers)-1]
}

type fakeTrack struct {
	id   string
	kind domain.MediaKind

	mu      sync.Mutex
	enabled bool
	stopped bool
}

func (t *fakeTrack) ID() string             { return t.id }
func (t *fakeTrack) Kind() domain.MediaKind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = on
}

func (t *fakeTrack) ReadFrame(ctx context.Context) (domain.EncodedFrame, error) {
	<-ctx.Done()
	return domain.EncodedFrame{}, ctx.Err()
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *fakeTrack) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeDevices struct {
	mu         sync.Mutex
	n          int
	failMic    bool
	failVideo  bool
	failScreen bool
	opened     []*fakeTrack
}

func (d *fakeDevices) newTrack(kind domain.MediaKind, label string) *fakeTrack {
	d.n++
	t := &fakeTrack{id: fmt.Sprintf("%s-%d", label, d.n), kind: kind, enabled: true}
	d.opened = append(d.opened, t)
	return t
}

func (d *fakeDevices) GetUserMedia(_ context.Context, c core.Constraints) ([]core.LocalTrack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if (c.Mic && d.failMic) || (c.Camera && d.failVideo) {
		return nil, errors.New("permission denied")
	}
	var out []core.LocalTrack
	if c.Mic {
		out = append(out, d.newTrack(domain.KindAudio, "mic"))
	}
	if c.Camera {
		out = append(out, d.newTrack(domain.KindVideo, "camera-"+string(c.Facing)))
	}
	return out, nil
}

func (d *fakeDevices) GetDisplayMedia(context.Context) ([]core.LocalTrack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failScreen {
		return nil, errors.New("screen capture denied")
	}
	return []core.LocalTrack{d.newTrack(domain.KindVideo, "screen")}, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []core.Response
}

func (l *eventLog) Emit(r core.Response) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, r)
}

func (l *eventLog) snapshot() []core.Response {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]core.Response(nil), l.events...)
}

func (l *eventLog) types() []string {
	var out []string
	for _, e := range l.snapshot() {
		out = append(out, e.ResponseType())
	}
	return out
}

func (l *eventLog) ofType(typ string) []core.Response {
	var out []core.Response
	for _, e := range l.snapshot() {
		if e.ResponseType() == typ {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) waitFor(t *testing.T, typ string, n int) []core.Response {
	t.Helper()
	require.Eventually(t, func() bool { return len(l.ofType(typ)) >= n }, 2*time.Second, 5*time.Millisecond,
		"waiting for %d %q events, got %v", n, typ, l.types())
	return l.ofType(typ)
}
