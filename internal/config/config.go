package config

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"

	"liveavatar-agent-golang/constants"
)

// DefaultEnvFiles 按顺序加载，先加载的优先，已存在的环境变量不会被覆盖
var DefaultEnvFiles = []string{".env.local", ".env"}

// Settings 进程启动时从环境变量读取的凭证，构造后只读
type Settings struct {
	LiveAvatarAPIKey string
	OpenAIAPIKey     string
	DeepgramAPIKey   string
	ElevenLabsAPIKey string
	DefaultAvatarID  string

	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string
}

// LoadEnvFiles 加载 env 文件，不存在的文件直接跳过
func LoadEnvFiles(files ...string) error {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// NewSettings 通过 getenv 构造 Settings，不做任何校验
// 空凭证只会在调用对应的外部服务时以鉴权失败的形式暴露
func NewSettings(getenv func(string) string) *Settings {
	return &Settings{
		LiveAvatarAPIKey: getenv(constants.EnvLiveAvatarAPIKey),
		OpenAIAPIKey:     firstNonEmpty(getenv(constants.EnvOpenaiAPIKey), getenv(constants.EnvOpenaiAPIKeyAlt)),
		DeepgramAPIKey:   getenv(constants.EnvDeepgramAPIKey),
		ElevenLabsAPIKey: getenv(constants.EnvElevenLabsAPIKey),
		DefaultAvatarID:  firstNonEmpty(getenv(constants.EnvLiveAvatarAvatarID), constants.DefaultAvatarID),
		LiveKitURL:       getenv(constants.EnvLiveKitURL),
		LiveKitAPIKey:    getenv(constants.EnvLiveKitAPIKey),
		LiveKitAPISecret: getenv(constants.EnvLiveKitAPISecret),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
