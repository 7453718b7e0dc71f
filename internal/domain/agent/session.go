package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"liveavatar-agent-golang/internal/data/audio"
	"liveavatar-agent-golang/internal/domain/asr"
	"liveavatar-agent-golang/internal/domain/asr/types"
	"liveavatar-agent-golang/internal/domain/llm"
	"liveavatar-agent-golang/internal/domain/rtc"
	"liveavatar-agent-golang/internal/domain/tts"
	"liveavatar-agent-golang/internal/util"
	log "liveavatar-agent-golang/logger"
)

var (
	ErrNoAudioOutput  = errors.New("agent: audio output not set")
	ErrSessionClosed  = errors.New("agent: session closed")
	ErrAlreadyStarted = errors.New("agent: session already started")
	ErrNotStarted     = errors.New("agent: session not started")
)

type State string

const (
	StateInitializing State = "initializing"
	StateListening    State = "listening"
	StateThinking     State = "thinking"
	StateSpeaking     State = "speaking"
	StateClosed       State = "closed"
)

const speechQueueSize = 16

type Option func(*AgentSession)

// WithAllowInterruptions 用户说话时是否打断当前回复，默认打断
func WithAllowInterruptions(allow bool) Option {
	return func(s *AgentSession) {
		s.allowInterruptions = allow
	}
}

func WithSessionID(id string) Option {
	return func(s *AgentSession) {
		s.sessionID = id
	}
}

// AgentSession 一次房间会话：语音识别 -> LLM -> 语音合成
type AgentSession struct {
	stt asr.AsrProvider
	llm llm.LLMProvider
	tts tts.TTSProvider

	sessionID          string
	allowInterruptions bool

	mu      sync.Mutex
	state   State
	started bool
	closed  bool
	output  AudioOutput
	room    rtc.Room
	agent   Agent
	history []*schema.Message
	current *SpeechHandle
	// 已识别但用户尚未说完的片段
	pendingUser strings.Builder

	speechQueue *util.Queue[*SpeechHandle]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewAgentSession(stt asr.AsrProvider, llmProvider llm.LLMProvider, ttsProvider tts.TTSProvider, opts ...Option) *AgentSession {
	s := &AgentSession{
		stt:                stt,
		llm:                llmProvider,
		tts:                ttsProvider,
		sessionID:          uuid.New().String(),
		allowInterruptions: true,
		state:              StateInitializing,
		speechQueue:        util.NewQueue[*SpeechHandle](speechQueueSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *AgentSession) ID() string {
	return s.sessionID
}

func (s *AgentSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *AgentSession) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.state != state {
		log.Debugf("[AgentSession %s] 状态 %s -> %s", s.sessionID, s.state, state)
		s.state = state
	}
}

// SetAudioOutput 设置语音输出，需在 Start 之前调用
func (s *AgentSession) SetAudioOutput(out AudioOutput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output = out
}

// History 对话历史副本
func (s *AgentSession) History() []*schema.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*schema.Message(nil), s.history...)
}

// Start 开始在房间里轮流对话，直到 Close 或 ctx 结束
func (s *AgentSession) Start(ctx context.Context, room rtc.Room, agent Agent) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	if s.output == nil {
		s.mu.Unlock()
		return ErrNoAudioOutput
	}
	s.started = true
	s.room = room
	s.agent = agent
	s.history = []*schema.Message{schema.SystemMessage(agent.Instructions())}
	s.ctx, s.cancel = context.WithCancel(ctx)
	sessCtx := s.ctx
	s.mu.Unlock()

	audioStream := make(chan []byte, 100)
	results, err := s.stt.StreamingRecognize(sessCtx, audioStream)
	if err != nil {
		s.cancel()
		return fmt.Errorf("启动语音识别失败: %w", err)
	}

	s.wg.Add(3)
	go s.pumpAudio(sessCtx, room.AudioInput(), audioStream)
	go s.recognitionLoop(results)
	go s.speechLoop(sessCtx)

	s.setState(StateListening)
	log.Infof("[AgentSession %s] 已在房间 %s 启动", s.sessionID, room.Name())
	return nil
}

// GenerateReply 让 agent 主动回复一次，instructions 只对这次生成生效
func (s *AgentSession) GenerateReply(ctx context.Context, instructions string) (*SpeechHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if !s.started {
		return nil, ErrNotStarted
	}
	h := newSpeechHandle(s.ctx, instructions)
	if err := s.speechQueue.Push(h); err != nil {
		h.finish(err)
		return nil, fmt.Errorf("回复入队失败: %w", err)
	}
	return h, nil
}

// Interrupt 打断当前回复并丢弃排队中的回复
func (s *AgentSession) Interrupt() {
	s.mu.Lock()
	current := s.current
	out := s.output
	s.mu.Unlock()

	for _, h := range s.speechQueue.Clear() {
		h.interrupt()
		h.finish(nil)
	}
	if current != nil {
		log.Debugf("[AgentSession %s] 打断回复 %s", s.sessionID, current.ID())
		current.interrupt()
		if out != nil {
			out.ClearBuffer()
		}
	}
}

// Close 停止会话，不关闭 AudioOutput
func (s *AgentSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state = StateClosed
	current := s.current
	cancel := s.cancel
	s.mu.Unlock()

	for _, h := range s.speechQueue.Close() {
		h.finish(ErrSessionClosed)
	}
	if current != nil {
		current.interrupt()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	log.Infof("[AgentSession %s] 已关闭", s.sessionID)
	return nil
}

// pumpAudio 房间音频送入语音识别，退出时关闭 audioStream 结束识别
func (s *AgentSession) pumpAudio(ctx context.Context, input <-chan audio.Frame, audioStream chan<- []byte) {
	defer func() {
		close(audioStream)
		s.wg.Done()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-input:
			if !ok {
				return
			}
			select {
			case audioStream <- frame.Data:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *AgentSession) recognitionLoop(results <-chan types.StreamingResult) {
	defer s.wg.Done()
	for result := range results {
		if result.Error != nil {
			log.Errorf("[AgentSession %s] 语音识别出错: %v", s.sessionID, result.Error)
			continue
		}
		s.onRecognition(result)
	}
	log.Debugf("[AgentSession %s] 语音识别结束", s.sessionID)
}

func (s *AgentSession) onRecognition(result types.StreamingResult) {
	text := strings.TrimSpace(result.Text)
	if text != "" && s.allowInterruptions && s.isSpeaking() {
		s.Interrupt()
	}

	s.mu.Lock()
	if result.IsFinal && text != "" {
		if s.pendingUser.Len() > 0 {
			s.pendingUser.WriteString(" ")
		}
		s.pendingUser.WriteString(text)
	}
	if !result.SpeechFinal || s.pendingUser.Len() == 0 {
		s.mu.Unlock()
		return
	}
	userText := s.pendingUser.String()
	s.pendingUser.Reset()
	s.history = append(s.history, schema.UserMessage(userText))
	s.mu.Unlock()

	log.Infof("[AgentSession %s] 用户: %s", s.sessionID, userText)
	s.publishTranscript("user", userText, "")

	h, err := s.GenerateReply(s.ctx, "")
	if err != nil {
		log.Warnf("[AgentSession %s] 无法回复用户: %v", s.sessionID, err)
		return
	}
	log.Debugf("[AgentSession %s] 用户回合结束，回复 %s 已排队", s.sessionID, h.ID())
}

func (s *AgentSession) isSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// speechLoop 同一时间只播放一个回复
func (s *AgentSession) speechLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		h, err := s.speechQueue.Pop(ctx, 0)
		if err != nil {
			return
		}
		if h.ctx.Err() != nil {
			h.finish(nil)
			continue
		}
		s.mu.Lock()
		s.current = h
		s.mu.Unlock()

		err = s.playSpeech(h)

		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
		if err != nil && !h.Interrupted() {
			log.Errorf("[AgentSession %s] 回复 %s 失败: %v", s.sessionID, h.ID(), err)
		}
		h.finish(err)
		s.setState(StateListening)
	}
}

func (s *AgentSession) playSpeech(h *SpeechHandle) error {
	startTs := time.Now().UnixMilli()
	s.setState(StateThinking)

	s.mu.Lock()
	dialogue := append([]*schema.Message(nil), s.history...)
	out := s.output
	s.mu.Unlock()
	if h.instructions != "" {
		dialogue = append(dialogue, schema.SystemMessage(h.instructions))
	}

	sentences, err := llm.HandleLLMWithContext(h.ctx, s.llm, dialogue, s.sessionID)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	var spoken []string
	defer func() {
		if len(spoken) == 0 {
			return
		}
		text := strings.Join(spoken, " ")
		s.mu.Lock()
		s.history = append(s.history, schema.AssistantMessage(text, nil))
		s.mu.Unlock()
		s.publishTranscript("assistant", text, h.ID())
	}()

	firstFrame := true
	for resp := range sentences {
		if resp.Text == "" {
			continue
		}
		frames, err := s.tts.TextToSpeechStream(h.ctx, resp.Text)
		if err != nil {
			return fmt.Errorf("tts: %w", err)
		}
		for data := range frames {
			if firstFrame {
				log.Debugf("耗时统计: 首帧语音: %d ms", time.Now().UnixMilli()-startTs)
				firstFrame = false
				s.setState(StateSpeaking)
			}
			frame := audio.Frame{Data: data, SampleRate: s.tts.SampleRate(), Channels: audio.Channels}
			if err := out.CaptureFrame(h.ctx, frame); err != nil {
				return fmt.Errorf("写入语音失败: %w", err)
			}
		}
		if h.ctx.Err() != nil {
			return h.ctx.Err()
		}
		spoken = append(spoken, resp.Text)
	}
	if h.ctx.Err() != nil {
		return h.ctx.Err()
	}
	if firstFrame {
		return nil
	}

	if err := out.Flush(h.ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return out.WaitForPlayout(h.ctx)
}

type transcriptEvent struct {
	Role     string `json:"role"`
	Text     string `json:"text"`
	Final    bool   `json:"final"`
	SpeechID string `json:"speech_id,omitempty"`
}

func (s *AgentSession) publishTranscript(role, text, speechID string) {
	s.mu.Lock()
	room := s.room
	ctx := s.ctx
	s.mu.Unlock()
	if room == nil {
		return
	}
	payload, err := json.Marshal(transcriptEvent{Role: role, Text: text, Final: true, SpeechID: speechID})
	if err != nil {
		return
	}
	if err := room.PublishData(ctx, rtc.TopicTranscription, payload); err != nil {
		log.Warnf("[AgentSession %s] 发送字幕失败: %v", s.sessionID, err)
	}
}
