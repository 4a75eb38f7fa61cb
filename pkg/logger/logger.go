package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log 全局日志实例，未初始化时为 Nop，避免空指针
var Log = zap.NewNop()

// InitLogger 根据运行环境初始化 zap
// prod 使用 JSON 编码，其余环境使用控制台编码
func InitLogger(env string, debug bool) error {
	var cfg zap.Config
	if env == "prod" || env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	l, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return err
	}
	Log = l
	return nil
}

// Sync 刷新缓冲区，进程退出前调用
func Sync() {
	_ = Log.Sync()
}
