package rtc

import (
	"context"
	"io"
	"sync"

	"github.com/dkeye/webcall/internal/domain"
)

// frameQueueSize bounds how many frames wait for a slow transform.
const frameQueueSize = 64

// frameQueue hands frames from a media pump to whoever took the encoded
// streams. Pushes never block: frames are dropped while the reader lags.
type frameQueue struct {
	ch     chan domain.EncodedFrame
	closed chan struct{}
	once   sync.Once
}

func newFrameQueue() *frameQueue {
	return &frameQueue{
		ch:     make(chan domain.EncodedFrame, frameQueueSize),
		closed: make(chan struct{}),
	}
}

func (q *frameQueue) push(f domain.EncodedFrame) bool {
	select {
	case <-q.closed:
		return false
	default:
	}
	select {
	case q.ch <- f:
		return true
	default:
		return false
	}
}

func (q *frameQueue) ReadFrame(ctx context.Context) (domain.EncodedFrame, error) {
	select {
	case f := <-q.ch:
		return f, nil
	case <-q.closed:
		return domain.EncodedFrame{}, io.EOF
	case <-ctx.Done():
		return domain.EncodedFrame{}, ctx.Err()
	}
}

func (q *frameQueue) close() { q.once.Do(func() { close(q.closed) }) }

// frameWriterFunc adapts a function to core.FrameWriter.
type frameWriterFunc func(domain.EncodedFrame) error

func (f frameWriterFunc) WriteFrame(fr domain.EncodedFrame) error { return f(fr) }
