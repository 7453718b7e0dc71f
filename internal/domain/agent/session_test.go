package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveavatar-agent-golang/internal/data/audio"
	"liveavatar-agent-golang/internal/domain/asr/types"
	"liveavatar-agent-golang/internal/domain/rtc"
)

type fakeSTT struct {
	results chan types.StreamingResult
}

func newFakeSTT() *fakeSTT {
	return &fakeSTT{results: make(chan types.StreamingResult, 10)}
}

func (f *fakeSTT) StreamingRecognize(ctx context.Context, audioStream <-chan []byte) (chan types.StreamingResult, error) {
	out := make(chan types.StreamingResult)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-f.results:
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

type fakeLLM struct {
	mu        sync.Mutex
	reply     string
	err       error
	dialogues [][]*schema.Message
}

func (f *fakeLLM) ResponseWithContext(ctx context.Context, sessionID string, dialogue []*schema.Message) (chan *schema.Message, error) {
	f.mu.Lock()
	f.dialogues = append(f.dialogues, dialogue)
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	ch := make(chan *schema.Message, 1)
	ch <- schema.AssistantMessage(f.reply, nil)
	close(ch)
	return ch, nil
}

func (f *fakeLLM) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{"model_name": "fake"}
}

func (f *fakeLLM) calls() [][]*schema.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]*schema.Message(nil), f.dialogues...)
}

// fakeTTS 每句输出 frames 帧，block 为 true 时输出一帧后阻塞到 ctx 结束
type fakeTTS struct {
	frames int
	block  bool
}

func (f *fakeTTS) TextToSpeechStream(ctx context.Context, text string) (chan []byte, error) {
	ch := make(chan []byte)
	go func() {
		defer close(ch)
		n := f.frames
		if f.block {
			n = 1
		}
		for i := 0; i < n; i++ {
			select {
			case ch <- make([]byte, 960):
			case <-ctx.Done():
				return
			}
		}
		if f.block {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

func (f *fakeTTS) SampleRate() int {
	return audio.OutputSampleRate
}

type fakeOutput struct {
	mu      sync.Mutex
	frames  int
	flushes int
	clears  int
	first   chan struct{}
	once    sync.Once
}

func newFakeOutput() *fakeOutput {
	return &fakeOutput{first: make(chan struct{})}
}

func (o *fakeOutput) CaptureFrame(ctx context.Context, frame audio.Frame) error {
	o.mu.Lock()
	o.frames++
	o.mu.Unlock()
	o.once.Do(func() { close(o.first) })
	return nil
}

func (o *fakeOutput) Flush(ctx context.Context) error {
	o.mu.Lock()
	o.flushes++
	o.mu.Unlock()
	return nil
}

func (o *fakeOutput) WaitForPlayout(ctx context.Context) error {
	return nil
}

func (o *fakeOutput) ClearBuffer() {
	o.mu.Lock()
	o.clears++
	o.mu.Unlock()
}

func (o *fakeOutput) counts() (int, int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.frames, o.flushes, o.clears
}

type published struct {
	topic   string
	payload []byte
}

type fakeRoom struct {
	mu    sync.Mutex
	input chan audio.Frame
	data  []published
}

func newFakeRoom() *fakeRoom {
	return &fakeRoom{input: make(chan audio.Frame)}
}

func (r *fakeRoom) Name() string                   { return "liveavatar-test-a-b" }
func (r *fakeRoom) URL() string                    { return "wss://example.livekit.cloud" }
func (r *fakeRoom) LocalIdentity() string          { return "agent-AJ_test" }
func (r *fakeRoom) AudioInput() <-chan audio.Frame { return r.input }

func (r *fakeRoom) PublishData(ctx context.Context, topic string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append(r.data, published{topic: topic, payload: payload})
	return nil
}

func (r *fakeRoom) MintToken(identity, name string, attrs map[string]string) (string, error) {
	return "token", nil
}

func (r *fakeRoom) transcripts() []transcriptEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []transcriptEvent
	for _, p := range r.data {
		if p.topic != rtc.TopicTranscription {
			continue
		}
		var ev transcriptEvent
		if json.Unmarshal(p.payload, &ev) == nil {
			out = append(out, ev)
		}
	}
	return out
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStartRequiresAudioOutput(t *testing.T) {
	s := NewAgentSession(newFakeSTT(), &fakeLLM{}, &fakeTTS{})
	err := s.Start(context.Background(), newFakeRoom(), Assistant{})
	assert.ErrorIs(t, err, ErrNoAudioOutput)
	assert.Equal(t, StateInitializing, s.State())
}

func TestSessionLifecycleErrors(t *testing.T) {
	s := NewAgentSession(newFakeSTT(), &fakeLLM{reply: "Hi."}, &fakeTTS{frames: 1})
	_, err := s.GenerateReply(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNotStarted)

	s.SetAudioOutput(newFakeOutput())
	require.NoError(t, s.Start(context.Background(), newFakeRoom(), Assistant{}))
	assert.Equal(t, StateListening, s.State())
	assert.ErrorIs(t, s.Start(context.Background(), newFakeRoom(), Assistant{}), ErrAlreadyStarted)

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
	_, err = s.GenerateReply(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, s.Start(context.Background(), newFakeRoom(), Assistant{}), ErrSessionClosed)
	assert.NoError(t, s.Close())
}

func TestGenerateReplyPlaysGreeting(t *testing.T) {
	fllm := &fakeLLM{reply: "Hello! I am your avatar assistant."}
	out := newFakeOutput()
	room := newFakeRoom()
	s := NewAgentSession(newFakeSTT(), fllm, &fakeTTS{frames: 3})
	s.SetAudioOutput(out)
	require.NoError(t, s.Start(context.Background(), room, Assistant{AvatarID: "josh"}))
	defer s.Close()

	h, err := s.GenerateReply(context.Background(), "Greet the user warmly and introduce yourself.")
	require.NoError(t, err)
	require.NoError(t, h.Wait(waitCtx(t)))
	assert.False(t, h.Interrupted())

	calls := fllm.calls()
	require.Len(t, calls, 1)
	dialogue := calls[0]
	require.Len(t, dialogue, 2)
	assert.Equal(t, schema.System, dialogue[0].Role)
	assert.Contains(t, dialogue[0].Content, "helpful AI assistant")
	assert.Equal(t, schema.System, dialogue[1].Role)
	assert.Equal(t, "Greet the user warmly and introduce yourself.", dialogue[1].Content)

	// 两句各 3 帧
	frames, flushes, _ := out.counts()
	assert.Equal(t, 6, frames)
	assert.Equal(t, 1, flushes)

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, schema.Assistant, history[1].Role)
	assert.Equal(t, "Hello! I am your avatar assistant.", history[1].Content)

	ts := room.transcripts()
	require.Len(t, ts, 1)
	assert.Equal(t, "assistant", ts[0].Role)
	assert.Equal(t, h.ID(), ts[0].SpeechID)

	assert.Eventually(t, func() bool { return s.State() == StateListening }, time.Second, 5*time.Millisecond)
}

func TestUserTurnTriggersReply(t *testing.T) {
	stt := newFakeSTT()
	fllm := &fakeLLM{reply: "It is noon."}
	room := newFakeRoom()
	s := NewAgentSession(stt, fllm, &fakeTTS{frames: 1})
	s.SetAudioOutput(newFakeOutput())
	require.NoError(t, s.Start(context.Background(), room, Assistant{}))
	defer s.Close()

	stt.results <- types.StreamingResult{Text: "what time", IsFinal: true}
	stt.results <- types.StreamingResult{Text: "is it", IsFinal: true, SpeechFinal: true}

	require.Eventually(t, func() bool { return len(room.transcripts()) == 2 }, 2*time.Second, 5*time.Millisecond)
	ts := room.transcripts()
	assert.Equal(t, "user", ts[0].Role)
	assert.Equal(t, "what time is it", ts[0].Text)
	assert.Equal(t, "assistant", ts[1].Role)
	assert.Equal(t, "It is noon.", ts[1].Text)

	calls := fllm.calls()
	require.Len(t, calls, 1)
	last := calls[0][len(calls[0])-1]
	assert.Equal(t, schema.User, last.Role)
	assert.Equal(t, "what time is it", last.Content)
}

func TestUserSpeechInterruptsReply(t *testing.T) {
	stt := newFakeSTT()
	out := newFakeOutput()
	s := NewAgentSession(stt, &fakeLLM{reply: "This is a very long answer."}, &fakeTTS{block: true})
	s.SetAudioOutput(out)
	require.NoError(t, s.Start(context.Background(), newFakeRoom(), Assistant{}))
	defer s.Close()

	h, err := s.GenerateReply(context.Background(), "")
	require.NoError(t, err)

	select {
	case <-out.first:
	case <-waitCtx(t).Done():
		t.Fatal("没有输出语音")
	}
	assert.Equal(t, StateSpeaking, s.State())

	stt.results <- types.StreamingResult{Text: "wait"}
	require.NoError(t, h.Wait(waitCtx(t)))
	assert.True(t, h.Interrupted())

	_, flushes, clears := out.counts()
	assert.Equal(t, 1, clears)
	assert.Equal(t, 0, flushes)
}

func TestCloseFinishesQueuedReplies(t *testing.T) {
	out := newFakeOutput()
	s := NewAgentSession(newFakeSTT(), &fakeLLM{reply: "Long reply here."}, &fakeTTS{block: true})
	s.SetAudioOutput(out)
	require.NoError(t, s.Start(context.Background(), newFakeRoom(), Assistant{}))

	first, err := s.GenerateReply(context.Background(), "")
	require.NoError(t, err)
	<-out.first
	second, err := s.GenerateReply(context.Background(), "")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.NoError(t, first.Wait(waitCtx(t)))
	assert.True(t, first.Interrupted())
	assert.ErrorIs(t, second.Wait(waitCtx(t)), ErrSessionClosed)
}

func TestGenerateReplyLLMFailure(t *testing.T) {
	boom := errors.New("openai unavailable")
	out := newFakeOutput()
	room := newFakeRoom()
	s := NewAgentSession(newFakeSTT(), &fakeLLM{err: boom}, &fakeTTS{frames: 1})
	s.SetAudioOutput(out)
	require.NoError(t, s.Start(context.Background(), room, Assistant{}))
	defer s.Close()

	h, err := s.GenerateReply(context.Background(), "hello")
	require.NoError(t, err)
	assert.ErrorIs(t, h.Wait(waitCtx(t)), boom)
	assert.False(t, h.Interrupted())

	frames, flushes, _ := out.counts()
	assert.Equal(t, 0, frames)
	assert.Equal(t, 0, flushes)
	assert.Empty(t, room.transcripts())
	assert.Len(t, s.History(), 1)
}

func TestAssistantInstructions(t *testing.T) {
	a := Assistant{AvatarID: "josh_lite3"}
	assert.Contains(t, a.Instructions(), "concise and conversational")
	assert.Contains(t, a.Instructions(), "emojis")
	assert.Equal(t, "josh_lite3", a.AvatarID)
}
