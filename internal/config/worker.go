package config

import (
	"time"

	"github.com/spf13/viper"

	"liveavatar-agent-golang/constants"
)

// WorkerConfig 配置文件中的运行参数快照
type WorkerConfig struct {
	ListenPort      int
	AgentName       string
	MaxJobs         int
	ShutdownTimeout time.Duration

	DeepgramBaseURL   string
	OpenaiBaseURL     string
	ElevenLabsBaseURL string
	ElevenLabsModel   string
	LiveAvatarBaseURL string

	RedisEnable bool
	WebhookTTL  time.Duration
}

func init() {
	viper.SetDefault("server.listen_port", 8081)
	viper.SetDefault("worker.agent_name", "liveavatar-agent")
	viper.SetDefault("worker.max_jobs", 16)
	viper.SetDefault("worker.shutdown_timeout", "10s")
	viper.SetDefault("worker.webhook_ttl", "10m")
	viper.SetDefault("elevenlabs.model", constants.ElevenLabsModel)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.path", "logs/")
	viper.SetDefault("log.file", "agent.log")
	viper.SetDefault("log.max_age", 7)
}

// LoadWorkerConfig 读取 viper 中已加载的配置
func LoadWorkerConfig() WorkerConfig {
	return WorkerConfig{
		ListenPort:        viper.GetInt("server.listen_port"),
		AgentName:         viper.GetString("worker.agent_name"),
		MaxJobs:           viper.GetInt("worker.max_jobs"),
		ShutdownTimeout:   viper.GetDuration("worker.shutdown_timeout"),
		DeepgramBaseURL:   viper.GetString("deepgram.base_url"),
		OpenaiBaseURL:     viper.GetString("openai.base_url"),
		ElevenLabsBaseURL: viper.GetString("elevenlabs.base_url"),
		ElevenLabsModel:   viper.GetString("elevenlabs.model"),
		LiveAvatarBaseURL: viper.GetString("liveavatar.base_url"),
		RedisEnable:       viper.GetBool("redis.enable"),
		WebhookTTL:        viper.GetDuration("worker.webhook_ttl"),
	}
}
