package transform

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/webcall/internal/core"
)

// Inline runs each pipe on its own goroutine in the calling process and
// reports mute changes directly.
type Inline struct {
	deps Deps
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewInline(deps Deps) *Inline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Inline{
		deps:   deps,
		log:    log.With().Str("module", "app.transform").Str("runner", string(KindInline)).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (r *Inline) Name() Kind { return KindInline }

func (r *Inline) Setup(op Operation, ep core.Endpoint, opts Options) error {
	if r.ctx.Err() != nil {
		return ErrClosed
	}
	streams, ok := ep.(core.EncodedStreamsEndpoint)
	if !ok {
		r.log.Warn().Str("op", string(op)).Str("mid", opts.Mid).Msg("no transform")
		return ErrNoTransform
	}
	readable, writable, err := streams.EncodedStreams()
	if err != nil {
		return err
	}

	fn, md, err := transformFor(op, opts.Key, r.deps, func(muted bool) {
		if r.deps.OnMute != nil {
			r.deps.OnMute(opts.Mid, muted)
		}
	})
	if err != nil {
		return err
	}

	r.log.Debug().Str("op", string(op)).Str("mid", opts.Mid).Msg("transform without worker")
	go func() {
		if md != nil {
			defer md.Stop()
		}
		if err := pipe(r.ctx, readable, writable, fn); err != nil {
			r.log.Error().Err(err).Str("op", string(op)).Str("mid", opts.Mid).Msg("pipe failed")
			if r.deps.OnError != nil && r.ctx.Err() == nil {
				r.deps.OnError(opts.Mid, err)
			}
		}
	}()
	return nil
}

// Close stops every pipe. It does not wait for pipes blocked in a read that
// ignores cancellation.
func (r *Inline) Close() {
	r.cancel()
}
