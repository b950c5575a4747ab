package rtc

import (
	"errors"
	"sync"

	"github.com/dkeye/webcall/internal/core"
	"github.com/dkeye/webcall/internal/domain"
)

var (
	ErrEncodedStreamsDisabled = errors.New("encoded streams not enabled on this connection")
	ErrStreamsTaken           = errors.New("encoded streams already taken")
)

// tap sits between a media pump and its sink. Without encoded streams frames
// go straight to the sink. With them, frames are queued for the taker, who
// writes them back through the sink; frames arriving before the streams are
// taken are dropped so nothing skips the transform.
type tap struct {
	kind    domain.MediaKind
	encoded bool
	sink    func(domain.EncodedFrame) error

	mu    sync.Mutex
	queue *frameQueue
}

func newTap(kind domain.MediaKind, encoded bool, sink func(domain.EncodedFrame) error) *tap {
	return &tap{kind: kind, encoded: encoded, sink: sink}
}

func (t *tap) Kind() domain.MediaKind { return t.kind }

func (t *tap) EncodedStreams() (core.FrameReader, core.FrameWriter, error) {
	if !t.encoded {
		return nil, nil, ErrEncodedStreamsDisabled
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.queue != nil {
		return nil, nil, ErrStreamsTaken
	}
	t.queue = newFrameQueue()
	return t.queue, frameWriterFunc(t.sink), nil
}

// SetTransform takes the streams and runs tr on them.
func (t *tap) SetTransform(tr core.ScriptTransformer) error {
	r, w, err := t.EncodedStreams()
	if err != nil {
		return err
	}
	go tr.Transform(r, w)
	return nil
}

// deliver reports false when a frame was dropped, either for a lagging
// reader or because no transform has taken the streams yet.
func (t *tap) deliver(f domain.EncodedFrame) (bool, error) {
	if !t.encoded {
		return true, t.sink(f)
	}
	t.mu.Lock()
	q := t.queue
	t.mu.Unlock()
	if q == nil {
		return false, nil
	}
	return q.push(f), nil
}

func (t *tap) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.queue != nil {
		t.queue.close()
	}
}
