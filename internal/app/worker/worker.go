package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"liveavatar-agent-golang/internal/config"
	"liveavatar-agent-golang/internal/domain/rtc"
	"liveavatar-agent-golang/internal/util/workqueue"
	log "liveavatar-agent-golang/logger"
)

var (
	ErrTooManyJobs   = errors.New("worker: too many jobs")
	ErrJobExists     = errors.New("worker: room already has a job")
	ErrWorkerStopped = errors.New("worker: stopped")
)

// 停止时并发关闭任务的协程数
const shutdownWorkers = 8

type Option func(*Worker)

func WithDeduper(d Deduper) Option {
	return func(w *Worker) {
		w.dedup = d
	}
}

func WithMetrics(m *Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// Worker 接收房间事件并为每个房间运行一个任务
type Worker struct {
	cfg       config.WorkerConfig
	entry     rtc.Entrypoint
	connector RoomConnector
	registry  *JobRegistry
	dedup     Deduper
	metrics   *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

func NewWorker(cfg config.WorkerConfig, entry rtc.Entrypoint, connector RoomConnector, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		cfg:       cfg,
		entry:     entry,
		connector: connector,
		registry:  NewJobRegistry(),
		dedup:     noopDeduper{},
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.metrics == nil {
		w.metrics = NewMetrics(nil)
	}
	return w
}

func (w *Worker) Registry() *JobRegistry {
	return w.registry
}

// Dispatch 为房间启动任务，房间已有任务时返回 ErrJobExists 和已有任务
func (w *Worker) Dispatch(roomName string) (*Job, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil, ErrWorkerStopped
	}
	if existing, ok := w.registry.Get(roomName); ok {
		return existing, ErrJobExists
	}
	if w.cfg.MaxJobs > 0 && w.registry.Count() >= w.cfg.MaxJobs {
		w.metrics.JobsTotal.WithLabelValues(jobStatusRejected).Inc()
		return nil, fmt.Errorf("%w: %d", ErrTooManyJobs, w.cfg.MaxJobs)
	}

	job := newJob(w.ctx, roomName)
	if !w.registry.Register(job) {
		existing, _ := w.registry.Get(roomName)
		return existing, ErrJobExists
	}
	w.metrics.JobsActive.Inc()
	w.wg.Add(1)
	go w.runJob(job)
	return job, nil
}

// ShutdownRoom 结束房间的任务
func (w *Worker) ShutdownRoom(roomName, reason string) bool {
	job, ok := w.registry.Get(roomName)
	if !ok {
		return false
	}
	job.Shutdown(reason)
	return true
}

func (w *Worker) runJob(job *Job) {
	logger := log.Log("job_id", job.ID(), "room", job.RoomName())
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("任务 panic: %v", r)
			w.metrics.JobsTotal.WithLabelValues(jobStatusFailed).Inc()
			job.Shutdown(ShutdownEntrypoint)
		}
		w.registry.Unregister(job)
		w.metrics.JobsActive.Dec()
		w.metrics.JobDuration.Observe(time.Since(job.started).Seconds())
		w.wg.Done()
	}()

	logger.Infof("开始任务, agent: %s", job.Identity())
	room, err := w.connector.Connect(job.Context(), job.RoomName(), job.Identity(), w.cfg.AgentName)
	if err != nil {
		logger.Errorf("加入房间失败: %v", err)
		w.metrics.JobsTotal.WithLabelValues(jobStatusFailed).Inc()
		job.Shutdown(ShutdownEntrypoint)
		return
	}
	if !job.attach(room) {
		room.Disconnect()
		return
	}

	if err := w.entry(job.Context(), job); err != nil {
		logger.Errorf("任务入口执行失败: %v", err)
		w.metrics.JobsTotal.WithLabelValues(jobStatusFailed).Inc()
		job.Shutdown(ShutdownEntrypoint)
		return
	}
	w.metrics.JobsTotal.WithLabelValues(jobStatusSucceeded).Inc()

	select {
	case <-room.Disconnected():
		job.Shutdown(ShutdownDisconnected)
	case <-job.Context().Done():
		job.Shutdown(ShutdownWorkerStopped)
	case <-job.Done():
	}
}

// Stop 结束所有任务，最多等待 ctx 到期
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.mu.Unlock()

	jobs := w.registry.All()
	log.Infof("worker 停止中, 运行中的任务: %d", len(jobs))

	done := make(chan struct{})
	go func() {
		workqueue.ParallelizeUntil(ctx, shutdownWorkers, len(jobs), func(i int) {
			jobs[i].Shutdown(ShutdownWorkerStopped)
		})
		w.wg.Wait()
		close(done)
	}()
	defer w.cancel()
	select {
	case <-done:
		log.Info("所有任务已结束")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("等待任务结束超时: %w", ctx.Err())
	}
}
