// Package signal bridges the host application to the call controller over a
// WebSocket carrying the JSON command protocol.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/webcall/internal/core"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
	ErrNoHost       = errors.New("no host attached")
	ErrNotBound     = errors.New("engine not ready")
)

// Processor runs one decoded command.
type Processor interface {
	ProcessCommand(ctx context.Context, cmd core.Command) core.Response
}

type Config struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

func (c Config) withDefaults() Config {
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = 54 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	return c
}

type WsSignalConn struct {
	id   string
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// Bridge attaches one host connection at a time to the controller. It is
// also the controller's event sink.
type Bridge struct {
	cfg   Config
	proto *Protocol
	log   zerolog.Logger

	// cmdMu keeps commands from replaced and current hosts in order.
	cmdMu sync.Mutex

	mu     sync.Mutex
	proc   Processor
	active core.SignalConnection
	cancel context.CancelFunc
}

func NewBridge(cfg Config, proto *Protocol) *Bridge {
	return &Bridge{
		cfg:   cfg.withDefaults(),
		proto: proto,
		log:   log.With().Str("module", "signal").Logger(),
	}
}

// Bind sets the processor commands are dispatched to.
func (b *Bridge) Bind(p Processor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.proc = p
}

// Attach makes conn the host connection, closing the previous one. The
// returned context ends when conn is replaced or detached.
func (b *Bridge) Attach(ctx context.Context, conn core.SignalConnection) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	old, oldCancel := b.active, b.cancel
	b.active, b.cancel = conn, cancel
	b.mu.Unlock()
	if old != nil {
		b.log.Info().Msg("replacing host connection")
		oldCancel()
		old.Close()
	}
	return ctx
}

// Detach drops conn if it is still the host connection.
func (b *Bridge) Detach(conn core.SignalConnection) {
	b.mu.Lock()
	if b.active != conn {
		b.mu.Unlock()
		return
	}
	cancel := b.cancel
	b.active, b.cancel = nil, nil
	b.mu.Unlock()
	cancel()
	conn.Close()
}

// Emit sends an unsolicited event to the host. Events are dropped while no
// host is attached.
func (b *Bridge) Emit(r core.Response) {
	if err := b.send(Message{Resp: r}, nil); err != nil {
		b.log.Warn().Err(err).Str("resp", r.ResponseType()).Msg("event dropped")
	}
}

func (b *Bridge) send(m Message, to core.SignalConnection) error {
	if r, ok := m.Resp.(core.Response); ok {
		wire, err := b.proto.EncodeResponse(r)
		if err != nil {
			return err
		}
		m.Resp = wire
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if to == nil {
		b.mu.Lock()
		to = b.active
		b.mu.Unlock()
	}
	if to == nil {
		return ErrNoHost
	}
	return to.TrySend(data)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleBridge upgrades the request and serves the host until it leaves or
// is replaced.
func (b *Bridge) HandleBridge(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		b.log.Error().Err(err).Msg("ws upgrade")
		return
	}
	conn := &WsSignalConn{
		id:   uuid.NewString(),
		conn: ws,
		send: make(chan core.Frame, b.cfg.SendBuffer),
	}
	b.log.Info().Str("conn", conn.id).Str("remote", c.ClientIP()).Msg("new host connection")

	ctx = b.Attach(ctx, conn)
	go b.writePump(ctx, conn)
	go b.readPump(ctx, conn)
}
