package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkeye/webcall/internal/core"
)

const writeWait = 5 * time.Second

func (b *Bridge) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(b.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.log.Info().Str("conn", c.id).Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				b.log.Warn().Err(err).Str("conn", c.id).Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				b.log.Warn().Str("conn", c.id).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				b.log.Error().Err(err).Str("conn", c.id).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				b.log.Error().Err(err).Str("conn", c.id).Msg("writePump write error")
				return
			}
		}
	}
}

func (b *Bridge) readPump(ctx context.Context, c *WsSignalConn) {
	defer func() {
		b.log.Info().Str("conn", c.id).Msg("readPump closing")
		b.Detach(c)
	}()

	c.conn.SetReadLimit(b.cfg.ReadLimit)
	pongWait := b.cfg.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for ctx.Err() == nil {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				b.log.Warn().Err(err).Str("conn", c.id).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		b.HandleMessage(ctx, c, data)
	}
}

var pingMessage = []byte(`{"type":"ping"}`)

// HandleMessage answers one host message on conn: a ping, or a request that
// is decoded, processed and answered with the same corrId.
func (b *Bridge) HandleMessage(ctx context.Context, conn core.SignalConnection, data []byte) {
	if bytes.Equal(bytes.TrimSpace(data), pingMessage) {
		if err := conn.TrySend([]byte(`{"type":"pong"}`)); err != nil {
			b.log.Warn().Err(err).Msg("pong")
		}
		return
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		b.log.Error().Err(err).Msg("bad json")
		resp := core.ErrorResponse{Message: fmt.Errorf("%w: %w", ErrBadRequest, err).Error()}
		if err := b.send(Message{Resp: resp}, conn); err != nil {
			b.log.Warn().Err(err).Msg("error reply dropped")
		}
		return
	}

	var (
		resp core.Response
		cmd  core.Command
		err  = ErrMissingType
	)
	if len(req.Command) > 0 {
		cmd, err = b.proto.DecodeCommand(req.Command)
	}
	if err != nil {
		b.log.Warn().Err(err).Msg("decode command")
		resp = core.ErrorResponse{Message: err.Error()}
	} else {
		resp = b.process(ctx, cmd)
	}

	msg := Message{CorrID: req.CorrID, Resp: resp, Command: req.Command}
	if err := b.send(msg, conn); err != nil {
		b.log.Warn().Err(err).Str("resp", resp.ResponseType()).Msg("response dropped")
	}
}

func (b *Bridge) process(ctx context.Context, cmd core.Command) core.Response {
	b.mu.Lock()
	proc := b.proc
	b.mu.Unlock()
	if proc == nil {
		return core.ErrorResponse{Message: cmd.CommandType() + ": " + ErrNotBound.Error()}
	}
	b.cmdMu.Lock()
	defer b.cmdMu.Unlock()
	return proc.ProcessCommand(ctx, cmd)
}
