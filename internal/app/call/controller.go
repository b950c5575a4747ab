// Package call drives a single peer-to-peer call from host commands.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/webcall/internal/app/ice"
	"github.com/dkeye/webcall/internal/app/transform"
	"github.com/dkeye/webcall/internal/core"
	"github.com/dkeye/webcall/internal/domain"
)

type Config struct {
	ICE               ice.Config
	ICEServers        []webrtc.ICEServer
	Relay             bool
	CandidatePoolSize uint8
	// ICEWaitCap bounds how long offer/answer wait for the first batch.
	ICEWaitCap    time.Duration
	AnswerTimeout time.Duration
	MuteTimeout   time.Duration
	UseWorker     bool
	Platform      transform.Platform
}

func DefaultConfig() Config {
	return Config{
		ICE:               ice.DefaultConfig(),
		ICEServers:        []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
		CandidatePoolSize: 10,
		ICEWaitCap:        10 * time.Second,
		AnswerTimeout:     30 * time.Second,
		MuteTimeout:       3 * time.Second,
		Platform:          transform.Platform{InsertableStreams: true},
	}
}

// Controller is the single entry point for host commands. Commands run one
// at a time; connection, ICE and media events are emitted to the sink.
type Controller struct {
	cfg     Config
	peers   core.PeerConnectionFactory
	devices core.DeviceAcquirer
	events  core.EventSink
	clock   clock.Clock
	log     zerolog.Logger

	// cmdMu serializes commands and session teardown.
	cmdMu sync.Mutex

	// mu guards the fields below for async readers.
	mu               sync.Mutex
	call             *Session
	state            State
	pending          *PendingCallConfig
	inactive         domain.MediaSources
	runnerKind       transform.Kind
	remoteCandidates []webrtc.ICECandidateInit
	description      domain.CallDescription
}

type Option func(*Controller)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

func NewController(cfg Config, peers core.PeerConnectionFactory, devices core.DeviceAcquirer, events core.EventSink, opts ...Option) *Controller {
	c := &Controller{
		cfg:     cfg,
		peers:   peers,
		devices: devices,
		events:  events,
		clock:   clock.New(),
		log:     log.With().Str("module", "app.call").Logger(),
		state:   StateIdle,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ProcessCommand handles one host command and returns its response. Errors
// never escape: they become error responses prefixed with the command type.
func (c *Controller) ProcessCommand(ctx context.Context, cmd core.Command) core.Response {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	resp, err := c.dispatch(ctx, cmd)
	if err != nil {
		if errors.Is(err, ErrUnknownCommand) {
			return core.ErrorResponse{Message: err.Error()}
		}
		c.log.Warn().Err(err).Str("command", cmd.CommandType()).Msg("command failed")
		return core.ErrorResponse{Message: fmt.Sprintf("%s: %s", cmd.CommandType(), err)}
	}
	return resp
}

func (c *Controller) dispatch(ctx context.Context, cmd core.Command) (core.Response, error) {
	switch cmd := cmd.(type) {
	case core.CapabilitiesCommand:
		return c.capabilities(ctx, cmd)
	case core.StartCommand:
		return c.start(ctx, cmd)
	case core.OfferCommand:
		return c.offer(ctx, cmd)
	case core.AnswerCommand:
		return c.answer(cmd)
	case core.ICECommand:
		return c.iceCandidates(cmd)
	case core.MediaCommand:
		return c.media(ctx, cmd)
	case core.CameraCommand:
		return c.camera(ctx, cmd)
	case core.DescriptionCommand:
		return c.setDescription(cmd)
	case core.LayoutCommand:
		return c.setLayout(cmd)
	case core.EndCommand:
		c.endCall()
		return core.OkResponse{}, nil
	default:
		return nil, ErrUnknownCommand
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the active call, if any.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.call
}

// InactiveMediaSources is the intended media state for the next call.
func (c *Controller) InactiveMediaSources() domain.MediaSources {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inactive
}

func (c *Controller) Description() domain.CallDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.description
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// current reports whether sess is still the active call. Effects of ended
// sessions are dropped with it.
func (c *Controller) current(sess *Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.call != nil && c.call == sess
}

func (c *Controller) emit(r core.Response) {
	if c.events != nil {
		c.events.Emit(r)
	}
}

// Close ends any active call and releases the preview.
func (c *Controller) Close() {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	c.endCall()
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	if pending != nil {
		pending.stop()
	}
}

func (c *Controller) setDescription(cmd core.DescriptionCommand) (core.Response, error) {
	d, err := domain.NewCallDescription(cmd.State, cmd.Description)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.description = d
	c.mu.Unlock()
	return core.OkResponse{}, nil
}

func (c *Controller) setLayout(cmd core.LayoutCommand) (core.Response, error) {
	if sess := c.Session(); sess != nil {
		sess.layout = cmd.Layout
	}
	return core.OkResponse{}, nil
}
