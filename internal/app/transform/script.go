package transform

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/webcall/internal/core"
)

// Script attaches transformers to endpoints that run transforms on their own
// streams. The endpoint fires the transformer once its streams exist, and the
// transformer forwards them into the worker. Endpoints without script
// support fall back to the worker over encoded streams.
type Script struct {
	worker *Worker
	log    zerolog.Logger
}

func NewScript(deps Deps) *Script {
	return &Script{
		worker: NewWorker(deps),
		log:    log.With().Str("module", "app.transform").Str("runner", string(KindScript)).Logger(),
	}
}

func (s *Script) Name() Kind { return KindScript }

func (s *Script) Setup(op Operation, ep core.Endpoint, opts Options) error {
	st, ok := ep.(core.ScriptTransformEndpoint)
	if !ok {
		return s.worker.Setup(op, ep, opts)
	}
	s.log.Debug().Str("op", string(op)).Str("mid", opts.Mid).Msg("transform with worker & script transform")
	return st.SetTransform(&scriptTransformer{worker: s.worker, op: op, opts: opts})
}

func (s *Script) Close() { s.worker.Close() }

type scriptTransformer struct {
	worker *Worker
	op     Operation
	opts   Options
}

func (t *scriptTransformer) Transform(readable core.FrameReader, writable core.FrameWriter) {
	err := t.worker.post(setupMessage{
		Operation: t.op,
		AESKey:    t.opts.AESKey,
		Mid:       t.opts.Mid,
		Readable:  readable,
		Writable:  writable,
	})
	if err != nil {
		t.worker.log.Warn().Err(err).Str("mid", t.opts.Mid).Msg("setupTransform error")
	}
}
