package stream

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var ErrHandleNil = errors.New("stream handle is nil")

// Handle represents one in-flight ingestion. Dropping the handle detaches the
// caller; the ingestion still commits to its conversation when it ends.
type Handle struct {
	ConversationID string
	StreamID       string

	done chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	result *Result
	err    error
}

// Start runs the ingestor on src in its own goroutine.
func Start(ctx context.Context, ing *Ingestor, src Source) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		ConversationID: ing.ConversationID(),
		StreamID:       ing.StreamID(),
		done:           make(chan struct{}),
		cancel:         cancel,
	}

	go func() {
		res, err := ing.Run(ctx, src)
		h.setResult(res, err)
		cancel()
	}()

	return h
}

func (h *Handle) setResult(res *Result, err error) {
	h.mu.Lock()
	h.result = res
	h.err = err
	close(h.done)
	h.cancel = nil
	h.mu.Unlock()
}

// Cancel closes the stream. The ingestion ends as failed unless it already finished.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the ingestion reached a terminal state.
func (h *Handle) Wait() (*Result, error) {
	if h == nil {
		return nil, ErrHandleNil
	}
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) IsRunning() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}
