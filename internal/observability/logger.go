package observability

import (
	"math/rand/v2"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a JSON zap logger named after service and installs it as
// the global logger. Outputs default to stdout; stdio protocols pass "stderr".
func NewLogger(service string, level zapcore.Level, outputs ...string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	if len(outputs) > 0 {
		cfg.OutputPaths = outputs
		cfg.ErrorOutputPaths = outputs
	}
	enc := &cfg.EncoderConfig
	enc.TimeKey, enc.LevelKey, enc.NameKey = "ts", "level", "logger"
	enc.CallerKey, enc.MessageKey, enc.StacktraceKey = "caller", "msg", "stacktrace"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	logger = logger.Named(service).With(zap.String("service", service))
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// InitLogger builds the default dcoserve logger at the environment's level.
func InitLogger() (*zap.Logger, error) {
	return NewLogger("dcoserve", LevelFromEnv())
}

// InitLoggerWithService is InitLogger with a custom service name.
func InitLoggerWithService(service string) (*zap.Logger, error) {
	return NewLogger(service, LevelFromEnv())
}

// InitStderrLogger keeps stdout free for protocol traffic.
func InitStderrLogger(service string) (*zap.Logger, error) {
	return NewLogger(service, LevelFromEnv(), "stderr")
}

// LevelFromEnv reads LOG_LEVEL, falling back to debug in development
// environments and info elsewhere.
func LevelFromEnv() zapcore.Level {
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		return ParseLevel(raw)
	}
	if isDevelopment(os.Getenv("ENV")) {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// ParseLevel maps a level name to a zap level. Unknown names are info.
func ParseLevel(name string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func isDevelopment(env string) bool {
	switch strings.ToLower(env) {
	case "development", "dev":
		return true
	}
	return false
}

// GetSamplingRate is the share of hot-path info logs to keep for ENV.
func GetSamplingRate() float64 {
	env := strings.ToLower(os.Getenv("ENV"))
	switch {
	case isDevelopment(env):
		return 1.0
	case env == "staging" || env == "test":
		return 0.5
	default:
		return 0.1
	}
}

// SamplingStats counts sampling decisions made at one rate.
type SamplingStats struct {
	Total   int64
	Sampled int64
	Rate    float64
}

type samplingCounter struct {
	total   atomic.Int64
	sampled atomic.Int64
}

var samplingCounters sync.Map // float64 -> *samplingCounter

// ShouldSample reports whether a log line at rate should be emitted.
// Rates at or above 1 always sample and rates at or below 0 never do.
func ShouldSample(rate float64) bool {
	if rate >= 1.0 {
		return true
	}
	if rate <= 0.0 {
		return false
	}
	v, _ := samplingCounters.LoadOrStore(rate, &samplingCounter{})
	c := v.(*samplingCounter)
	c.total.Add(1)
	if rand.Float64() < rate {
		c.sampled.Add(1)
		return true
	}
	return false
}

// GetSamplingStats snapshots the counters per rate.
func GetSamplingStats() map[float64]SamplingStats {
	out := make(map[float64]SamplingStats)
	samplingCounters.Range(func(k, v any) bool {
		c := v.(*samplingCounter)
		rate := k.(float64)
		out[rate] = SamplingStats{Total: c.total.Load(), Sampled: c.sampled.Load(), Rate: rate}
		return true
	})
	return out
}

// ResetSamplingStats clears all counters.
func ResetSamplingStats() {
	samplingCounters.Range(func(k, _ any) bool {
		samplingCounters.Delete(k)
		return true
	})
}
