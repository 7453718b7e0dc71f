package session

import (
	"context"

	"liveavatar-agent-golang/constants"
	"liveavatar-agent-golang/internal/config"
	"liveavatar-agent-golang/internal/domain/agent"
	"liveavatar-agent-golang/internal/domain/asr"
	"liveavatar-agent-golang/internal/domain/avatar/liveavatar"
	"liveavatar-agent-golang/internal/domain/llm"
	"liveavatar-agent-golang/internal/domain/rtc"
	"liveavatar-agent-golang/internal/domain/tts"
)

// Reply 一次生成的回复
type Reply interface {
	Wait(ctx context.Context) error
}

// ConversationSession 语音对话会话
type ConversationSession interface {
	liveavatar.AudioOutputSetter
	Start(ctx context.Context, room rtc.Room, persona agent.Agent) error
	GenerateReply(ctx context.Context, instructions string) (Reply, error)
	Close() error
}

// Avatar 数字人
type Avatar interface {
	Start(ctx context.Context, session liveavatar.AudioOutputSetter, room rtc.Room) error
	Close() error
}

// Clients 每次会话需要的外部服务客户端
type Clients interface {
	NewSTT() (asr.AsrProvider, error)
	NewLLM() (llm.LLMProvider, error)
	NewTTS() (tts.TTSProvider, error)
	NewSession(stt asr.AsrProvider, llmProvider llm.LLMProvider, ttsProvider tts.TTSProvider) ConversationSession
	NewAvatar(avatarID string) Avatar
}

// VendorClients Deepgram / OpenAI / ElevenLabs / LiveAvatar
type VendorClients struct {
	Settings *config.Settings
	Worker   config.WorkerConfig
}

func (c *VendorClients) NewSTT() (asr.AsrProvider, error) {
	return asr.NewAsrProvider(constants.AsrTypeDeepgram, map[string]interface{}{
		"api_key":  c.Settings.DeepgramAPIKey,
		"model":    constants.DeepgramModel,
		"language": constants.DeepgramLanguage,
		"base_url": c.Worker.DeepgramBaseURL,
	})
}

func (c *VendorClients) NewLLM() (llm.LLMProvider, error) {
	return llm.GetLLMProvider(constants.LlmTypeOpenai, map[string]interface{}{
		"api_key":    c.Settings.OpenAIAPIKey,
		"model_name": constants.OpenaiModel,
		"base_url":   c.Worker.OpenaiBaseURL,
	})
}

func (c *VendorClients) NewTTS() (tts.TTSProvider, error) {
	return tts.GetTTSProvider(constants.TtsTypeElevenLabs, map[string]interface{}{
		"api_key":  c.Settings.ElevenLabsAPIKey,
		"voice":    constants.ElevenLabsVoice,
		"model":    c.Worker.ElevenLabsModel,
		"base_url": c.Worker.ElevenLabsBaseURL,
	})
}

func (c *VendorClients) NewSession(stt asr.AsrProvider, llmProvider llm.LLMProvider, ttsProvider tts.TTSProvider) ConversationSession {
	return &agentSession{AgentSession: agent.NewAgentSession(stt, llmProvider, ttsProvider)}
}

func (c *VendorClients) NewAvatar(avatarID string) Avatar {
	var opts []liveavatar.Option
	if c.Worker.LiveAvatarBaseURL != "" {
		opts = append(opts, liveavatar.WithBaseURL(c.Worker.LiveAvatarBaseURL))
	}
	return liveavatar.NewAvatarSession(avatarID, c.Settings.LiveAvatarAPIKey, opts...)
}

type agentSession struct {
	*agent.AgentSession
}

func (s *agentSession) GenerateReply(ctx context.Context, instructions string) (Reply, error) {
	h, err := s.AgentSession.GenerateReply(ctx, instructions)
	if err != nil {
		return nil, err
	}
	return h, nil
}
