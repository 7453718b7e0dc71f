package constants

const (
	AsrTypeDeepgram = "deepgram"
)

const (
	LlmTypeOpenai = "openai"
)

const (
	TtsTypeElevenLabs = "elevenlabs"
)

// 会话默认参数，本版本写死，不允许通过环境变量覆盖
const (
	DeepgramModel    = "nova-2"
	DeepgramLanguage = "en-US"
	OpenaiModel      = "gpt-4o-mini"
	ElevenLabsVoice  = "pNInz6obpgDQGcFmaJgB"
	ElevenLabsModel  = "eleven_flash_v2_5"
)

// 房间名前缀，形如 liveavatar-<avatar id 片段>-<extra>-<extra>
const (
	RoomPrefix      = "liveavatar-"
	DefaultAvatarID = "josh_lite3_20230714"
)

// 环境变量名
const (
	EnvLiveAvatarAPIKey   = "LIVEAVATAR_API_KEY"
	EnvOpenaiAPIKey       = "OPENAI_API_KEY"
	EnvOpenaiAPIKeyAlt    = "AI_INTEGRATIONS_OPENAI_API_KEY"
	EnvDeepgramAPIKey     = "DEEPGRAM_API_KEY"
	EnvElevenLabsAPIKey   = "ELEVENLABS_API_KEY"
	EnvLiveAvatarAvatarID = "LIVEAVATAR_AVATAR_ID"
	EnvLiveKitURL         = "LIVEKIT_URL"
	EnvLiveKitAPIKey      = "LIVEKIT_API_KEY"
	EnvLiveKitAPISecret   = "LIVEKIT_API_SECRET"
)
