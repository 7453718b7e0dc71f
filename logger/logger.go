package logger

import (
	"fmt"
	"io"
	"path/filepath"
	"runtime"

	nested "github.com/antonfisher/nested-logrus-formatter"
	log "github.com/sirupsen/logrus"
)

func init() {
	// 默认输出由 cmd 决定，这里只设置格式
	log.SetFormatter(Formatter(false))
}

// SetOutput 设置日志输出目标
func SetOutput(out io.Writer) {
	log.SetOutput(out)
}

// SetLevel 设置日志级别
func SetLevel(level log.Level) {
	log.SetLevel(level)
}

// SetConsole 控制台输出时启用颜色
func SetConsole(isConsole bool) {
	log.SetFormatter(Formatter(isConsole))
}

// getCaller 跳过 logger 包装层，取实际调用位置
// 调用栈：用户代码 -> logger.Info -> addCallerField -> getCaller
func getCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

func addCallerField() *log.Entry {
	return log.WithField("caller", getCaller(3))
}

func Info(args ...interface{}) {
	addCallerField().Info(args...)
}

func Error(args ...interface{}) {
	addCallerField().Error(args...)
}

func Debug(args ...interface{}) {
	addCallerField().Debug(args...)
}

func Warn(args ...interface{}) {
	addCallerField().Warn(args...)
}

func Fatal(args ...interface{}) {
	addCallerField().Fatal(args...)
}

func Infof(format string, args ...interface{}) {
	addCallerField().Infof(format, args...)
}

func Errorf(format string, args ...interface{}) {
	addCallerField().Errorf(format, args...)
}

func Debugf(format string, args ...interface{}) {
	addCallerField().Debugf(format, args...)
}

func Warnf(format string, args ...interface{}) {
	addCallerField().Warnf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	addCallerField().Fatalf(format, args...)
}

// Log 以 key, value 成对的参数构造带字段的日志条目
// 例如 log.Log("job_id", id, "room", name).Info("job started")
func Log(args ...interface{}) *log.Entry {
	fields := log.Fields{}
	lenArgs := len(args)
	for i := 0; i < lenArgs; i = i + 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		if i <= lenArgs-2 {
			fields[key] = args[i+1]
			continue
		}
		fields[key] = ""
	}
	fields["caller"] = getCaller(2)
	return log.WithFields(fields)
}

func Formatter(isConsole bool) *nested.Formatter {
	return &nested.Formatter{
		FieldsOrder:      []string{"time", "level", "caller", "job_id", "room", "msg"},
		HideKeys:         true,
		TimestampFormat:  "2006-01-02 15:04:05.000",
		CallerFirst:      true,
		NoUppercaseLevel: true,
		ShowFullLevel:    true,
		NoColors:         !isConsole,
		// caller 字段由我们自己添加
		CustomCallerFormatter: func(frame *runtime.Frame) string {
			return ""
		},
	}
}
