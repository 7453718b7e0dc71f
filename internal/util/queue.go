package util

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrQueueClosed = errors.New("queue closed")
var ErrQueueFull = errors.New("queue full")
var ErrQueueTimeout = errors.New("queue pop timeout")
var ErrQueueEmpty = errors.New("queue empty (non-blocking pop)")

// Queue 基于 chan 的并发安全队列
// Push 在锁内非阻塞写入，不会向已关闭的 chan 写数据
type Queue[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
}

// NewQueue 创建指定容量的队列
func NewQueue[T any](capacity int) *Queue[T] {
	return &Queue[T]{
		ch: make(chan T, capacity),
	}
}

// Push 入队，队列满返回 ErrQueueFull
func (q *Queue[T]) Push(val T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- val:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pop 出队
// timeout=0: 阻塞直到有数据、队列关闭或 ctx 结束
// timeout<0: 非阻塞
// timeout>0: 最多等待 timeout
func (q *Queue[T]) Pop(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T
	if timeout < 0 {
		select {
		case v, ok := <-q.ch:
			if !ok {
				return zero, ErrQueueClosed
			}
			return v, nil
		default:
			return zero, ErrQueueEmpty
		}
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case v, ok := <-q.ch:
		if !ok {
			return zero, ErrQueueClosed
		}
		return v, nil
	case <-timer:
		return zero, ErrQueueTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Len 当前队列长度
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Clear 取出并返回所有未处理的元素，阻塞中的 Pop 不受影响
func (q *Queue[T]) Clear() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drain()
}

// Close 永久关闭队列，返回关闭时残留的元素
func (q *Queue[T]) Close() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	rest := q.drain()
	close(q.ch)
	return rest
}

func (q *Queue[T]) drain() []T {
	var out []T
	for {
		select {
		case v := <-q.ch:
			out = append(out, v)
		default:
			return out
		}
	}
}
