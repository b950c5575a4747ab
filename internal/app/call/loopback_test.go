package call

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/webcall/internal/adapters/rtc"
	"github.com/dkeye/webcall/internal/app/transform"
	"github.com/dkeye/webcall/internal/core"
	"github.com/dkeye/webcall/internal/domain"
	"github.com/dkeye/webcall/internal/e2ee"
)

const plainMarker = "webcall-frame-"

// toneTrack produces numbered plaintext audio frames every 20ms.
type toneTrack struct {
	id      string
	n       atomic.Int64
	enabled atomic.Bool
	done    chan struct{}
	once    sync.Once
}

func newToneTrack(id string) *toneTrack {
	t := &toneTrack{id: id, done: make(chan struct{})}
	t.enabled.Store(true)
	return t
}

func (t *toneTrack) ID() string             { return t.id }
func (t *toneTrack) Kind() domain.MediaKind { return domain.KindAudio }
func (t *toneTrack) Enabled() bool          { return t.enabled.Load() }
func (t *toneTrack) SetEnabled(on bool)     { t.enabled.Store(on) }
func (t *toneTrack) Stop()                  { t.once.Do(func() { close(t.done) }) }

func (t *toneTrack) ReadFrame(ctx context.Context) (domain.EncodedFrame, error) {
	select {
	case <-time.After(20 * time.Millisecond):
	case <-t.done:
		return domain.EncodedFrame{}, io.EOF
	case <-ctx.Done():
		return domain.EncodedFrame{}, ctx.Err()
	}
	return domain.EncodedFrame{
		Type:     domain.FrameEmpty,
		Data:     []byte(fmt.Sprintf("%s%06d", plainMarker, t.n.Add(1))),
		Duration: 20 * time.Millisecond,
	}, nil
}

type toneDevices struct {
	label string
	n     atomic.Int64
}

func (d *toneDevices) GetUserMedia(_ context.Context, c core.Constraints) ([]core.LocalTrack, error) {
	if c.Camera {
		return nil, errors.New("no camera")
	}
	if !c.Mic {
		return nil, nil
	}
	return []core.LocalTrack{newToneTrack(fmt.Sprintf("%s-mic-%d", d.label, d.n.Add(1)))}, nil
}

func (d *toneDevices) GetDisplayMedia(context.Context) ([]core.LocalTrack, error) {
	return nil, errors.New("no screen")
}

// playbackLog records the frames handed to playback.
type playbackLog struct {
	mu     sync.Mutex
	frames [][]byte
}

func (p *playbackLog) play(_ string, f domain.EncodedFrame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, append([]byte(nil), f.Data...))
}

func (p *playbackLog) snapshot() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.frames...)
}

// relaySink records events and passes late candidates to the other side.
type relaySink struct {
	*eventLog
	peer atomic.Pointer[Controller]
}

func (s *relaySink) Emit(r core.Response) {
	s.eventLog.Emit(r)
	ice, ok := r.(core.ICEResponse)
	if !ok {
		return
	}
	if peer := s.peer.Load(); peer != nil {
		go peer.ProcessCommand(context.Background(), core.ICECommand{ICECandidates: ice.ICECandidates})
	}
}

type loopbackPeer struct {
	ctrl     *Controller
	events   *relaySink
	playback *playbackLog
}

func newLoopbackPeer(t *testing.T, label string) *loopbackPeer {
	t.Helper()
	p := &loopbackPeer{events: &relaySink{eventLog: &eventLog{}}, playback: &playbackLog{}}
	factory, err := rtc.NewFactory(rtc.DefaultConfig(), rtc.WithPlayback(p.playback.play))
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.ICEServers = nil
	cfg.Platform = transform.Platform{InsertableStreams: true}
	cfg.UseWorker = false
	p.ctrl = NewController(cfg, factory, &toneDevices{label: label}, p.events)
	t.Cleanup(p.ctrl.Close)
	return p
}

func (p *loopbackPeer) do(cmd core.Command) core.Response {
	return p.ctrl.ProcessCommand(context.Background(), cmd)
}

func requirePlaintextPlayback(t *testing.T, p *loopbackPeer, min int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(p.playback.snapshot()) >= min }, 15*time.Second, 20*time.Millisecond,
		"expected %d played frames", min)
	for _, f := range p.playback.snapshot() {
		assert.True(t, strings.HasPrefix(string(f), plainMarker), "frame reached playback undecrypted: %x", f)
	}
}

func TestEncryptedAudioCallOverLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real peer connections")
	}
	key, err := e2ee.NewKey()
	require.NoError(t, err)
	aesKey := key.Export()

	alice := newLoopbackPeer(t, "alice")
	bob := newLoopbackPeer(t, "bob")
	alice.events.peer.Store(bob.ctrl)
	bob.events.peer.Store(alice.ctrl)

	caps, ok := alice.do(core.CapabilitiesCommand{Media: domain.CallAudio}).(core.CapabilitiesResponse)
	require.True(t, ok)
	require.True(t, caps.Capabilities.Encryption)
	bob.do(core.CapabilitiesCommand{Media: domain.CallAudio})

	resp := alice.do(core.StartCommand{Media: domain.CallAudio, AESKey: aesKey})
	offer, ok := resp.(core.OfferResponse)
	require.True(t, ok, "start: %#v", resp)

	resp = bob.do(core.OfferCommand{
		Offer:         offer.Offer,
		ICECandidates: offer.ICECandidates,
		Media:         domain.CallAudio,
		AESKey:        aesKey,
	})
	answer, ok := resp.(core.AnswerResponse)
	require.True(t, ok, "offer: %#v", resp)

	require.Equal(t, core.OkResponse{}, alice.do(core.AnswerCommand{Answer: answer.Answer, ICECandidates: answer.ICECandidates}))

	require.Eventually(t, func() bool { return len(alice.events.ofType(core.RespConnected)) > 0 }, 15*time.Second, 20*time.Millisecond,
		"caller never connected: %v", alice.events.types())

	requirePlaintextPlayback(t, bob, 20)
	requirePlaintextPlayback(t, alice, 20)

	wantMic := core.PeerMediaResponse{Media: domain.CallAudio, Source: domain.SourceMic, Enabled: true}
	require.Eventually(t, func() bool {
		for _, e := range bob.events.ofType(core.RespPeerMedia) {
			if e == wantMic {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond, "callee events: %v", bob.events.types())

	assert.Empty(t, alice.events.ofType(core.RespEnded))
	assert.Empty(t, bob.events.ofType(core.RespEnded))
}
