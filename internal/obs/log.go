package obs

import (
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerMu sync.Mutex
	logger   *zap.Logger
	level    = zap.NewAtomicLevelAt(zap.InfoLevel)
	sink     zapcore.WriteSyncer = zapcore.Lock(zapcore.AddSync(os.Stdout))
)

// Logger returns the shared structured logger used across the service.
func Logger() *zap.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		logger = build(sink)
	}
	return logger
}

// SetOutput redirects log output (tests capture lines this way) and returns
// a function restoring the previous sink.
func SetOutput(w io.Writer) func() {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	prev := sink
	sink = zapcore.Lock(zapcore.AddSync(w))
	logger = build(sink)
	return func() {
		loggerMu.Lock()
		defer loggerMu.Unlock()
		sink = prev
		logger = build(sink)
	}
}

// SetLevel changes the minimum level; unknown names fall back to info.
func SetLevel(name string) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(name)))); err != nil {
		l = zapcore.InfoLevel
	}
	level.SetLevel(l)
}

func build(ws zapcore.WriteSyncer) *zap.Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.MessageKey = "msg"
	enc.LevelKey = "level"
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), ws, level)
	return zap.New(core)
}

// LogRequest emits a structured JSON log line with common HTTP fields.
func LogRequest(msg string, fields ...zap.Field) {
	Logger().Info(msg, fields...)
}
