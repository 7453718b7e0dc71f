package config

import "os"

// Load 从进程环境读取 Settings
func Load() *Settings {
	return NewSettings(os.Getenv)
}
