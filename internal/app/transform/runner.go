// Package transform runs the per-frame crypto on sender and receiver frame
// streams. Three runners exist: Inline pipes frames on goroutines owned by
// the caller, Worker hands streams to a dedicated worker goroutine that keeps
// its own copy of the key, and Script attaches a transformer to endpoints
// that run transforms themselves.
package transform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dkeye/webcall/internal/core"
	"github.com/dkeye/webcall/internal/domain"
	"github.com/dkeye/webcall/internal/e2ee"
)

var (
	// ErrNoTransform is returned when an endpoint exposes neither encoded
	// streams nor script transforms. Frames then pass unmodified.
	ErrNoTransform = errors.New("endpoint does not support frame transforms")
	ErrClosed      = errors.New("transform runner closed")
)

type Operation string

const (
	Encrypt Operation = "encrypt"
	Decrypt Operation = "decrypt"
)

type Kind string

const (
	KindInline Kind = "inline"
	KindWorker Kind = "worker"
	KindScript Kind = "script"
)

// Platform describes which frame transform mechanisms the media stack offers.
type Platform struct {
	InsertableStreams bool `mapstructure:"insertable_streams" json:"insertableStreams"`
	ScriptTransform   bool `mapstructure:"script_transform" json:"scriptTransform"`
}

// EncryptionSupported reports whether calls can be encrypted at all.
func (p Platform) EncryptionSupported(useWorker bool) bool {
	return p.InsertableStreams || (useWorker && p.ScriptTransform)
}

// Choose picks the runner kind once per call.
func Choose(useWorker bool, p Platform) Kind {
	switch {
	case useWorker && p.ScriptTransform:
		return KindScript
	case useWorker:
		return KindWorker
	default:
		return KindInline
	}
}

// Options describe one transform setup.
type Options struct {
	// Key is used by in-process runners; AESKey is the exported form handed
	// to workers, which import their own copy.
	Key    *e2ee.Key
	AESKey string
	Mid    string
	Media  domain.CallMediaType
}

// Hooks deliver pipe signals back to the call.
type Hooks struct {
	OnMute  func(mid string, muted bool)
	OnError func(mid string, err error)
}

// Deps are shared by every runner kind.
type Deps struct {
	Hooks
	Clock       clock.Clock
	MuteTimeout time.Duration
}

// Runner attaches the crypto transform to endpoints of a single call.
type Runner interface {
	Name() Kind
	Setup(op Operation, ep core.Endpoint, opts Options) error
	Close()
}

// New builds a runner of the given kind.
func New(kind Kind, deps Deps) Runner {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	switch kind {
	case KindScript:
		return NewScript(deps)
	case KindWorker:
		return NewWorker(deps)
	default:
		return NewInline(deps)
	}
}

// transformFor builds the frame function for op. Decrypt pipes own a mute
// detector that reports through notify.
func transformFor(op Operation, key *e2ee.Key, deps Deps, notify func(bool)) (e2ee.TransformFunc, *e2ee.MuteDetector, error) {
	switch op {
	case Encrypt:
		return e2ee.EncryptFrame(key), nil, nil
	case Decrypt:
		md := e2ee.NewMuteDetector(deps.Clock, deps.MuteTimeout, notify)
		return e2ee.DecryptFrame(key, md), md, nil
	default:
		return nil, nil, fmt.Errorf("unknown transform operation %q", op)
	}
}

// pipe copies frames from r to w through fn until the stream ends or ctx is
// done. A clean end returns nil.
func pipe(ctx context.Context, r core.FrameReader, w core.FrameWriter, fn e2ee.TransformFunc) error {
	for {
		f, err := r.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		out, err := fn(f)
		if err != nil {
			return err
		}
		if err := w.WriteFrame(out); err != nil {
			if ctx.Err() != nil || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return fmt.Errorf("write frame: %w", err)
		}
	}
}
