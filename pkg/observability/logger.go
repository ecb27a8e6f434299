// Package observability sets up the process logger.
package observability

import (
    "fmt"
    "os"
    "path/filepath"
    "strings"

    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
    "gopkg.in/natefinch/lumberjack.v2"

    "github.com/kixelated/warp/pkg/config"
)

// SetupLogger builds a zap.Logger from c, installs it as the global logger
// and redirects the stdlib log package. The returned func syncs the logger
// and restores the previous globals.
func SetupLogger(c config.LogConfig) (*zap.Logger, func(), error) {
    level, err := ParseLevel(c.Level)
    if err != nil { return nil, nil, err }
    enc := newEncoder(c)

    cores := make([]zapcore.Core, 0, len(c.Outputs))
    for _, out := range c.Outputs {
        ws, err := sink(out, c)
        if err != nil { return nil, nil, err }
        cores = append(cores, zapcore.NewCore(enc, ws, level))
    }
    if len(cores) == 0 { cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)) }

    opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)}
    if c.Development { opts = append(opts, zap.Development()) }
    logger := zap.New(zapcore.NewTee(cores...), opts...)

    undoGlobals := zap.ReplaceGlobals(logger)
    undoStd, err := zap.RedirectStdLogAt(logger, zap.InfoLevel)
    if err != nil {
        undoGlobals()
        return nil, nil, fmt.Errorf("redirect std log: %w", err)
    }
    return logger, func() {
        _ = logger.Sync()
        undoStd()
        undoGlobals()
    }, nil
}

// ParseLevel maps a config level name to a zap level.
func ParseLevel(s string) (zap.AtomicLevel, error) {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "debug":
        return zap.NewAtomicLevelAt(zap.DebugLevel), nil
    case "", "info":
        return zap.NewAtomicLevelAt(zap.InfoLevel), nil
    case "warn", "warning":
        return zap.NewAtomicLevelAt(zap.WarnLevel), nil
    case "error":
        return zap.NewAtomicLevelAt(zap.ErrorLevel), nil
    default:
        return zap.AtomicLevel{}, fmt.Errorf("unknown log level %q", s)
    }
}

func newEncoder(c config.LogConfig) zapcore.Encoder {
    encCfg := zap.NewProductionEncoderConfig()
    encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
    if c.Development {
        encCfg = zap.NewDevelopmentEncoderConfig()
        encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
    }
    if strings.EqualFold(c.Format, "json") { return zapcore.NewJSONEncoder(encCfg) }
    return zapcore.NewConsoleEncoder(encCfg)
}

// sink opens one output. File outputs rotate through lumberjack when
// rotation is enabled; the rotation filename then overrides out.
func sink(out string, c config.LogConfig) (zapcore.WriteSyncer, error) {
    switch strings.ToLower(out) {
    case "stdout":
        return zapcore.Lock(os.Stdout), nil
    case "stderr":
        return zapcore.Lock(os.Stderr), nil
    }
    if c.Rotation.Enable {
        name := out
        if f := strings.TrimSpace(c.Rotation.Filename); f != "" { name = f }
        return zapcore.AddSync(&lumberjack.Logger{
            Filename:   name,
            MaxSize:    max(c.Rotation.MaxSizeMB, 10),
            MaxBackups: max(c.Rotation.MaxBackups, 1),
            MaxAge:     max(c.Rotation.MaxAgeDays, 7),
            Compress:   c.Rotation.Compress,
        }), nil
    }
    if dir := filepath.Dir(out); dir != "." {
        if err := os.MkdirAll(dir, 0o755); err != nil { return nil, fmt.Errorf("log dir: %w", err) }
    }
    f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
    if err != nil { return nil, fmt.Errorf("open log output: %w", err) }
    return zapcore.AddSync(f), nil
}
