package agent

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// SpeechHandle 一次回复从生成到播放完的句柄
type SpeechHandle struct {
	id           string
	instructions string

	ctx    context.Context
	cancel context.CancelFunc

	once        sync.Once
	done        chan struct{}
	mu          sync.Mutex
	err         error
	interrupted bool
}

func newSpeechHandle(parent context.Context, instructions string) *SpeechHandle {
	ctx, cancel := context.WithCancel(parent)
	return &SpeechHandle{
		id:           "speech_" + uuid.New().String()[:12],
		instructions: instructions,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
}

func (h *SpeechHandle) ID() string {
	return h.id
}

// Done 播放完成、被打断或出错后关闭
func (h *SpeechHandle) Done() <-chan struct{} {
	return h.done
}

func (h *SpeechHandle) Interrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}

// Wait 等待回复结束，被打断不算错误
func (h *SpeechHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *SpeechHandle) interrupt() {
	h.mu.Lock()
	h.interrupted = true
	h.mu.Unlock()
	h.cancel()
}

func (h *SpeechHandle) finish(err error) {
	h.once.Do(func() {
		h.mu.Lock()
		if !h.interrupted {
			h.err = err
		}
		h.mu.Unlock()
		h.cancel()
		close(h.done)
	})
}
