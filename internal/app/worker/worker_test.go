package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/livekit/protocol/livekit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveavatar-agent-golang/internal/config"
	"liveavatar-agent-golang/internal/data/audio"
	"liveavatar-agent-golang/internal/domain/rtc"
)

type fakeRoom struct {
	name     string
	identity string

	once         sync.Once
	disconnected chan struct{}
}

func newFakeRoom(name, identity string) *fakeRoom {
	return &fakeRoom{name: name, identity: identity, disconnected: make(chan struct{})}
}

func (r *fakeRoom) Name() string                   { return r.name }
func (r *fakeRoom) URL() string                    { return "wss://demo.livekit.cloud" }
func (r *fakeRoom) LocalIdentity() string          { return r.identity }
func (r *fakeRoom) AudioInput() <-chan audio.Frame { return nil }
func (r *fakeRoom) Disconnected() <-chan struct{}  { return r.disconnected }

func (r *fakeRoom) PublishData(ctx context.Context, topic string, payload []byte) error {
	return nil
}

func (r *fakeRoom) MintToken(identity, name string, attrs map[string]string) (string, error) {
	return "token", nil
}

func (r *fakeRoom) Disconnect() {
	r.once.Do(func() { close(r.disconnected) })
}

func (r *fakeRoom) isDisconnected() bool {
	select {
	case <-r.disconnected:
		return true
	default:
		return false
	}
}

type fakeConnector struct {
	mu    sync.Mutex
	err   error
	rooms map[string]*fakeRoom
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{rooms: make(map[string]*fakeRoom)}
}

func (c *fakeConnector) Connect(ctx context.Context, roomName, identity, name string) (ConnectedRoom, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	r := newFakeRoom(roomName, identity)
	c.rooms[roomName] = r
	return r, nil
}

func (c *fakeConnector) room(name string) *fakeRoom {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[name]
}

func testConfig() config.WorkerConfig {
	return config.WorkerConfig{AgentName: "liveavatar-agent", MaxJobs: 2, ShutdownTimeout: time.Second}
}

// recordingEntry 记录被调用的任务，并注册一个记录结束原因的回调
type recordingEntry struct {
	mu      sync.Mutex
	err     error
	jobs    []string
	reasons chan string
}

func newRecordingEntry() *recordingEntry {
	return &recordingEntry{reasons: make(chan string, 8)}
}

func (e *recordingEntry) run(ctx context.Context, job rtc.JobContext) error {
	e.mu.Lock()
	e.jobs = append(e.jobs, job.ID())
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return err
	}
	job.AddShutdownCallback(func(reason string) { e.reasons <- reason })
	return nil
}

func (e *recordingEntry) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.jobs)
}

func waitReason(t *testing.T, ch <-chan string) string {
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("等待任务结束超时")
		return ""
	}
}

func waitDone(t *testing.T, job *Job) {
	select {
	case <-job.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("任务未结束")
	}
}

func TestDispatchRunsEntrypoint(t *testing.T) {
	entry := newRecordingEntry()
	connector := newFakeConnector()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	w := NewWorker(testConfig(), entry.run, connector, WithMetrics(metrics))

	job, err := w.Dispatch("liveavatar-josh-a-b")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return entry.calls() == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, job.ID(), "AJ_")
	assert.Equal(t, "agent-"+job.ID(), job.Identity())

	again, err := w.Dispatch("liveavatar-josh-a-b")
	assert.ErrorIs(t, err, ErrJobExists)
	assert.Same(t, job, again)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.JobsTotal.WithLabelValues(jobStatusSucceeded)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.JobsActive))

	room := connector.room("liveavatar-josh-a-b")
	require.NotNil(t, room)
	assert.Equal(t, job.Identity(), room.LocalIdentity())
	assert.Same(t, room, job.Room())

	require.True(t, w.ShutdownRoom("liveavatar-josh-a-b", ShutdownRoomFinished))
	assert.Equal(t, ShutdownRoomFinished, waitReason(t, entry.reasons))
	waitDone(t, job)
	assert.True(t, room.isDisconnected())
	assert.Equal(t, ShutdownRoomFinished, job.Reason())

	require.Eventually(t, func() bool { return w.Registry().Count() == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, w.ShutdownRoom("liveavatar-josh-a-b", ShutdownRoomFinished))
	assert.Eventually(t, func() bool { return testutil.ToFloat64(metrics.JobsActive) == 0 }, time.Second, 5*time.Millisecond)
}

func TestDispatchRejectsOverCapacity(t *testing.T) {
	entry := newRecordingEntry()
	metrics := NewMetrics(nil)
	w := NewWorker(testConfig(), entry.run, newFakeConnector(), WithMetrics(metrics))
	defer w.Stop(context.Background())

	_, err := w.Dispatch("room-1")
	require.NoError(t, err)
	_, err = w.Dispatch("room-2")
	require.NoError(t, err)
	_, err = w.Dispatch("room-3")
	assert.ErrorIs(t, err, ErrTooManyJobs)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.JobsTotal.WithLabelValues(jobStatusRejected)))
}

func TestRoomDisconnectEndsJob(t *testing.T) {
	entry := newRecordingEntry()
	connector := newFakeConnector()
	w := NewWorker(testConfig(), entry.run, connector)

	job, err := w.Dispatch("room-1")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return entry.calls() == 1 }, time.Second, 5*time.Millisecond)

	connector.room("room-1").Disconnect()
	assert.Equal(t, ShutdownDisconnected, waitReason(t, entry.reasons))
	waitDone(t, job)
}

func TestEntrypointFailureShutsDownJob(t *testing.T) {
	entry := newRecordingEntry()
	entry.err = errors.New("liveavatar unauthorized")
	connector := newFakeConnector()
	metrics := NewMetrics(nil)
	w := NewWorker(testConfig(), entry.run, connector, WithMetrics(metrics))

	job, err := w.Dispatch("room-1")
	require.NoError(t, err)
	waitDone(t, job)
	assert.Equal(t, ShutdownEntrypoint, job.Reason())
	assert.True(t, connector.room("room-1").isDisconnected())
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.JobsTotal.WithLabelValues(jobStatusFailed)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestConnectFailureShutsDownJob(t *testing.T) {
	entry := newRecordingEntry()
	connector := newFakeConnector()
	connector.err = errors.New("dial failed")
	w := NewWorker(testConfig(), entry.run, connector)

	job, err := w.Dispatch("room-1")
	require.NoError(t, err)
	waitDone(t, job)
	assert.Equal(t, ShutdownEntrypoint, job.Reason())
	assert.Equal(t, 0, entry.calls())
}

func TestStopShutsDownAllJobs(t *testing.T) {
	entry := newRecordingEntry()
	w := NewWorker(testConfig(), entry.run, newFakeConnector())

	a, err := w.Dispatch("room-1")
	require.NoError(t, err)
	b, err := w.Dispatch("room-2")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return entry.calls() == 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))
	waitDone(t, a)
	waitDone(t, b)
	assert.Equal(t, ShutdownWorkerStopped, a.Reason())
	assert.Equal(t, 0, w.Registry().Count())

	_, err = w.Dispatch("room-3")
	assert.ErrorIs(t, err, ErrWorkerStopped)
	assert.NoError(t, w.Stop(ctx))
}

func TestJobShutdownCallbacksReverseOrder(t *testing.T) {
	job := newJob(context.Background(), "room-1")
	var order []int
	job.AddShutdownCallback(func(string) { order = append(order, 1) })
	job.AddShutdownCallback(func(string) { panic("boom") })
	job.AddShutdownCallback(func(string) { order = append(order, 3) })

	room := newFakeRoom("room-1", job.Identity())
	require.True(t, job.attach(room))

	job.Shutdown(ShutdownRoomFinished)
	job.Shutdown(ShutdownWorkerStopped)

	assert.Equal(t, []int{3, 1}, order)
	assert.Equal(t, ShutdownRoomFinished, job.Reason())
	assert.True(t, room.isDisconnected())
	assert.Error(t, job.Context().Err())
	assert.False(t, job.attach(newFakeRoom("room-1", job.Identity())))
}

func TestJobCallbackAddedAfterShutdown(t *testing.T) {
	job := newJob(context.Background(), "room-1")
	job.Shutdown(ShutdownRoomFinished)

	var got string
	job.AddShutdownCallback(func(reason string) { got = reason })
	assert.Equal(t, ShutdownRoomFinished, got)

	// 不会再次执行
	job.Shutdown(ShutdownWorkerStopped)
	assert.Equal(t, ShutdownRoomFinished, got)
}

func TestJobRegistry(t *testing.T) {
	r := NewJobRegistry()
	a := newJob(context.Background(), "room-1")
	b := newJob(context.Background(), "room-1")

	assert.True(t, r.Register(a))
	assert.False(t, r.Register(b))
	assert.Equal(t, 1, r.Count())

	r.Unregister(b)
	got, ok := r.Get("room-1")
	require.True(t, ok)
	assert.Same(t, a, got)

	r.Unregister(a)
	assert.Equal(t, 0, r.Count())
	assert.Empty(t, r.All())
}

func TestHandleWebhookEvent(t *testing.T) {
	entry := newRecordingEntry()
	metrics := NewMetrics(nil)
	w := NewWorker(testConfig(), entry.run, newFakeConnector(), WithMetrics(metrics))
	defer w.Stop(context.Background())

	room := &livekit.Room{Name: "liveavatar-josh-a-b"}
	ctx := context.Background()

	// agent 和数字人加入不派发
	w.HandleWebhookEvent(ctx, &livekit.WebhookEvent{Event: eventParticipantJoined, Room: room,
		Participant: &livekit.ParticipantInfo{Identity: "liveavatar-avatar-agent"}})
	w.HandleWebhookEvent(ctx, &livekit.WebhookEvent{Event: eventParticipantJoined, Room: room,
		Participant: &livekit.ParticipantInfo{Identity: "bot", Kind: livekit.ParticipantInfo_AGENT}})
	assert.Equal(t, 0, w.Registry().Count())

	w.HandleWebhookEvent(ctx, &livekit.WebhookEvent{Event: eventParticipantJoined, Room: room,
		Participant: &livekit.ParticipantInfo{Identity: "user-1"}})
	require.Equal(t, 1, w.Registry().Count())
	job, ok := w.Registry().Get("liveavatar-josh-a-b")
	require.True(t, ok)

	// 同一房间第二个用户不再派发
	w.HandleWebhookEvent(ctx, &livekit.WebhookEvent{Event: eventParticipantJoined, Room: room,
		Participant: &livekit.ParticipantInfo{Identity: "user-2"}})
	assert.Equal(t, 1, w.Registry().Count())

	require.Eventually(t, func() bool { return entry.calls() == 1 }, time.Second, 5*time.Millisecond)
	w.HandleWebhookEvent(ctx, &livekit.WebhookEvent{Event: eventRoomFinished, Room: room})
	waitDone(t, job)
	assert.Equal(t, ShutdownRoomFinished, job.Reason())

	assert.Equal(t, float64(4), testutil.ToFloat64(metrics.WebhookEvents.WithLabelValues(eventParticipantJoined)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.WebhookEvents.WithLabelValues(eventRoomFinished)))
}

type fixedDeduper struct {
	seen map[string]bool
}

func (d *fixedDeduper) FirstSeen(ctx context.Context, eventID string) (bool, error) {
	if d.seen[eventID] {
		return false, nil
	}
	d.seen[eventID] = true
	return true, nil
}

func TestHandleWebhookEventDedup(t *testing.T) {
	entry := newRecordingEntry()
	w := NewWorker(testConfig(), entry.run, newFakeConnector(), WithDeduper(&fixedDeduper{seen: map[string]bool{}}))
	defer w.Stop(context.Background())

	ev := &livekit.WebhookEvent{
		Id:          "EV_1",
		Event:       eventParticipantJoined,
		Room:        &livekit.Room{Name: "room-1"},
		Participant: &livekit.ParticipantInfo{Identity: "user-1"},
	}
	w.HandleWebhookEvent(context.Background(), ev)
	require.Eventually(t, func() bool { return entry.calls() == 1 }, time.Second, 5*time.Millisecond)

	job, ok := w.Registry().Get("room-1")
	require.True(t, ok)
	job.Shutdown(ShutdownRoomFinished)
	waitDone(t, job)
	require.Eventually(t, func() bool { return w.Registry().Count() == 0 }, time.Second, 5*time.Millisecond)

	// 重复投递被忽略
	w.HandleWebhookEvent(context.Background(), ev)
	assert.Equal(t, 0, w.Registry().Count())
	assert.Equal(t, 1, entry.calls())
}
