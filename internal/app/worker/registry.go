package worker

import (
	cmap "github.com/orcaman/concurrent-map/v2"
)

// JobRegistry 按房间名索引正在运行的任务，每个房间最多一个
type JobRegistry struct {
	jobs cmap.ConcurrentMap[string, *Job]
}

func NewJobRegistry() *JobRegistry {
	return &JobRegistry{jobs: cmap.New[*Job]()}
}

// Register 房间已有任务时返回 false
func (r *JobRegistry) Register(job *Job) bool {
	return r.jobs.SetIfAbsent(job.RoomName(), job)
}

// Unregister 只删除同一个任务
func (r *JobRegistry) Unregister(job *Job) {
	r.jobs.RemoveCb(job.RoomName(), func(key string, v *Job, exists bool) bool {
		return exists && v == job
	})
}

func (r *JobRegistry) Get(roomName string) (*Job, bool) {
	return r.jobs.Get(roomName)
}

func (r *JobRegistry) Count() int {
	return r.jobs.Count()
}

func (r *JobRegistry) All() []*Job {
	jobs := make([]*Job, 0, r.jobs.Count())
	for item := range r.jobs.IterBuffered() {
		jobs = append(jobs, item.Val)
	}
	return jobs
}
