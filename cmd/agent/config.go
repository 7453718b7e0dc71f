package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	redisdb "liveavatar-agent-golang/internal/db/redis"
	log "liveavatar-agent-golang/logger"
)

func Init(configFile string, dev bool) error {
	if err := initConfig(configFile); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !dev || (!errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist)) {
			return fmt.Errorf("initConfig err: %w", err)
		}
		fmt.Printf("配置文件 %s 不存在, 使用默认配置\n", configFile)
	}

	if err := initLog(dev); err != nil {
		return err
	}

	if viper.GetBool("redis.enable") {
		if err := initRedis(); err != nil {
			return err
		}
	}
	return nil
}

func initConfig(configFile string) error {
	basePath, file := filepath.Split(configFile)

	fileName, fileExt := func(file string) (string, string) {
		if pos := strings.LastIndex(file, "."); pos != -1 {
			return file[:pos], strings.ToLower(file[pos+1:])
		}
		return file, ""
	}(file)

	viper.SetConfigName(fileName)
	if basePath == "" {
		basePath = "."
	}
	viper.AddConfigPath(basePath)

	switch fileExt {
	case "json":
		viper.SetConfigType("json")
	case "yaml", "yml":
		viper.SetConfigType("yaml")
	default:
		return fmt.Errorf("unsupported config file type: %s", fileExt)
	}

	return viper.ReadInConfig()
}

func initLog(dev bool) error {
	if dev {
		// 开发模式只输出到控制台
		log.SetOutput(os.Stdout)
		log.SetConsole(true)
		log.SetLevel(logrus.DebugLevel)
		return nil
	}

	logDir := viper.GetString("log.path")
	if !filepath.IsAbs(logDir) {
		binPath, _ := os.Executable()
		logDir = filepath.Join(filepath.Dir(binPath), logDir)
	}
	logPath := filepath.Join(logDir, viper.GetString("log.file"))
	// 按天轮转，保留 log.max_age 个文件
	writer, err := rotatelogs.New(
		logPath+".%Y%m%d",
		rotatelogs.WithLinkName(logPath),
		rotatelogs.WithRotationCount(uint(viper.GetInt("log.max_age"))),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("init log error: %w", err)
	}

	if viper.GetBool("log.stdout") {
		log.SetOutput(io.MultiWriter(writer, os.Stdout))
		log.SetConsole(true)
	} else {
		log.SetOutput(writer)
		log.SetConsole(false)
	}

	logLevel, err := logrus.ParseLevel(viper.GetString("log.level"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetLevel(logLevel)
	return nil
}

func initRedis() error {
	redisConfig := redisdb.DefaultConfig()
	if err := viper.UnmarshalKey("redis", redisConfig); err != nil {
		return fmt.Errorf("解析 redis 配置失败: %w", err)
	}
	if _, err := redisdb.Init(context.Background(), redisConfig); err != nil {
		return fmt.Errorf("init redis error: %w", err)
	}
	return nil
}
