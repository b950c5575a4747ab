package transform

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/webcall/internal/core"
	"github.com/dkeye/webcall/internal/e2ee"
)

// setupMessage is what the call posts to the worker for each endpoint.
type setupMessage struct {
	Operation Operation
	AESKey    string
	Mid       string
	Readable  core.FrameReader
	Writable  core.FrameWriter
}

// workerMessage is what the worker posts back.
type workerMessage struct {
	Mid   string
	Mute  *bool
	Err   error
	Setup string
}

// Worker runs every pipe of a call under one worker goroutine that only talks
// to the call through messages. It imports its own key from the exported key
// string.
type Worker struct {
	deps Deps
	log  zerolog.Logger

	inbox  chan setupMessage
	outbox chan workerMessage

	ctx    context.Context
	cancel context.CancelFunc
}

func NewWorker(deps Deps) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		deps:   deps,
		log:    log.With().Str("module", "app.transform").Str("runner", string(KindWorker)).Logger(),
		inbox:  make(chan setupMessage, 8),
		outbox: make(chan workerMessage, 32),
		ctx:    ctx,
		cancel: cancel,
	}
	go w.run()
	go w.relay()
	return w
}

func (w *Worker) Name() Kind { return KindWorker }

func (w *Worker) Setup(op Operation, ep core.Endpoint, opts Options) error {
	streams, ok := ep.(core.EncodedStreamsEndpoint)
	if !ok {
		w.log.Warn().Str("op", string(op)).Str("mid", opts.Mid).Msg("no transform")
		return ErrNoTransform
	}
	readable, writable, err := streams.EncodedStreams()
	if err != nil {
		return err
	}
	w.log.Debug().Str("op", string(op)).Str("mid", opts.Mid).Msg("transform with worker")
	return w.post(setupMessage{
		Operation: op,
		AESKey:    opts.AESKey,
		Mid:       opts.Mid,
		Readable:  readable,
		Writable:  writable,
	})
}

func (w *Worker) post(m setupMessage) error {
	select {
	case <-w.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case w.inbox <- m:
		return nil
	case <-w.ctx.Done():
		return ErrClosed
	}
}

// Close stops the worker and its pipes. Hooks may still be running when it
// returns; they must not block on the caller of Close.
func (w *Worker) Close() {
	w.cancel()
}

// run is the worker side. Nothing here touches call state.
func (w *Worker) run() {
	keys := make(map[string]*e2ee.Key)
	for {
		select {
		case <-w.ctx.Done():
			return
		case m := <-w.inbox:
			key, ok := keys[m.AESKey]
			if !ok {
				var err error
				key, err = e2ee.ImportKey(m.AESKey)
				if err != nil {
					w.postBack(workerMessage{Mid: m.Mid, Err: err})
					continue
				}
				keys[m.AESKey] = key
			}
			w.startPipe(m, key)
		}
	}
}

func (w *Worker) startPipe(m setupMessage, key *e2ee.Key) {
	fn, md, err := transformFor(m.Operation, key, w.deps, func(muted bool) {
		w.postBack(workerMessage{Mid: m.Mid, Mute: &muted})
	})
	if err != nil {
		w.postBack(workerMessage{Mid: m.Mid, Err: err})
		return
	}
	go func() {
		if md != nil {
			defer md.Stop()
		}
		if err := pipe(w.ctx, m.Readable, m.Writable, fn); err != nil {
			w.postBack(workerMessage{Mid: m.Mid, Err: err})
		}
	}()
	w.postBack(workerMessage{Mid: m.Mid, Setup: "setupTransform success"})
}

func (w *Worker) postBack(m workerMessage) {
	select {
	case w.outbox <- m:
	case <-w.ctx.Done():
	}
}

// relay forwards worker messages to the call hooks.
func (w *Worker) relay() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case m := <-w.outbox:
			switch {
			case m.Err != nil:
				w.log.Error().Err(m.Err).Str("mid", m.Mid).Msg("worker pipe failed")
				if w.deps.OnError != nil {
					w.deps.OnError(m.Mid, m.Err)
				}
			case m.Mute != nil:
				if w.deps.OnMute != nil {
					w.deps.OnMute(m.Mid, *m.Mute)
				}
			case m.Setup != "":
				w.log.Debug().Str("mid", m.Mid).Msg(m.Setup)
			}
		}
	}
}
