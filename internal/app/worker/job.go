package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"liveavatar-agent-golang/internal/domain/rtc"
	log "liveavatar-agent-golang/logger"
)

const (
	ShutdownRoomFinished  = "room_finished"
	ShutdownDisconnected  = "room_disconnected"
	ShutdownWorkerStopped = "worker_stopped"
	ShutdownEntrypoint    = "entrypoint_failed"
)

// Job 一次加入房间的任务
type Job struct {
	id       string
	roomName string
	room     ConnectedRoom
	started  time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	callbacks []func(reason string)
	once      sync.Once
	reason    string
	done      chan struct{}
}

var _ rtc.JobContext = (*Job)(nil)

func newJob(parent context.Context, roomName string) *Job {
	ctx, cancel := context.WithCancel(parent)
	return &Job{
		id:       "AJ_" + uuid.New().String(),
		roomName: roomName,
		started:  time.Now(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (j *Job) ID() string {
	return j.id
}

func (j *Job) RoomName() string {
	return j.roomName
}

func (j *Job) Room() rtc.Room {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.room == nil {
		return nil
	}
	return j.room
}

// attach 任务已结束时返回 false
func (j *Job) attach(room ConnectedRoom) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.reason != "" {
		return false
	}
	j.room = room
	return true
}

// Identity agent 在房间中的身份
func (j *Job) Identity() string {
	return "agent-" + j.id
}

func (j *Job) Context() context.Context {
	return j.ctx
}

// Done 任务完全结束后关闭
func (j *Job) Done() <-chan struct{} {
	return j.done
}

func (j *Job) Reason() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.reason
}

// AddShutdownCallback 任务已结束时立即执行 cb
func (j *Job) AddShutdownCallback(cb func(reason string)) {
	j.mu.Lock()
	reason := j.reason
	if reason == "" {
		j.callbacks = append(j.callbacks, cb)
	}
	j.mu.Unlock()
	if reason != "" {
		j.runCallback(cb, reason)
	}
}

// Shutdown 结束任务，回调按注册逆序执行，最后断开房间
func (j *Job) Shutdown(reason string) {
	j.once.Do(func() {
		j.mu.Lock()
		j.reason = reason
		callbacks := append([]func(string)(nil), j.callbacks...)
		room := j.room
		j.mu.Unlock()

		log.Log("job_id", j.id, "room", j.roomName).Infof("任务结束: %s", reason)
		for i := len(callbacks) - 1; i >= 0; i-- {
			j.runCallback(callbacks[i], reason)
		}
		j.cancel()
		if room != nil {
			room.Disconnect()
		}
		close(j.done)
	})
}

func (j *Job) runCallback(cb func(string), reason string) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("任务 %s 结束回调 panic: %v", j.id, r)
		}
	}()
	cb(reason)
}
