package logger

import (
	"log"
	"sync"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Red    = color.New(color.FgRed).SprintFunc()
	Yellow = color.New(color.FgYellow).SprintFunc()
	Green  = color.New(color.FgGreen).SprintFunc()
	Blue   = color.New(color.FgBlue).SprintFunc()

	level = zap.NewAtomicLevelAt(zap.InfoLevel)

	mu          sync.Mutex
	development = true
)

// Configure sets the level and encoding used by loggers created afterwards.
// The level is shared, so it also applies to loggers that already exist.
func Configure(levelName string, devMode bool) error {
	var lvl zapcore.Level
	if levelName != "" {
		if err := lvl.UnmarshalText([]byte(levelName)); err != nil {
			return err
		}
	}
	level.SetLevel(lvl)

	mu.Lock()
	development = devMode
	mu.Unlock()

	return nil
}

func NewLogger() *zap.SugaredLogger {
	mu.Lock()
	devMode := development
	mu.Unlock()

	config := zap.NewProductionConfig()
	if devMode {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	config.Level = level

	logger, err := config.Build()
	if err != nil {
		log.Panic(err)
	}

	// flushes buffer, if any
	defer logger.Sync()

	return logger.Sugar()
}

// Prefixed returns a logger whose messages start with a coloured tag,
// e.g. "[scanner] ".
func Prefixed(base *zap.SugaredLogger, tag string) *PrefixLogger {
	return &PrefixLogger{base: base, tag: "[" + tag + "] "}
}

type PrefixLogger struct {
	base *zap.SugaredLogger
	tag  string
}

func (p *PrefixLogger) Infof(template string, args ...interface{}) {
	p.base.Infof(Yellow(p.tag)+template, args...)
}

func (p *PrefixLogger) Warnf(template string, args ...interface{}) {
	p.base.Warnf(Yellow(p.tag)+template, args...)
}

func (p *PrefixLogger) Errorf(template string, args ...interface{}) {
	p.base.Errorf(Red(p.tag)+template, args...)
}

func (p *PrefixLogger) Debugf(template string, args ...interface{}) {
	p.base.Debugf(Blue(p.tag)+template, args...)
}
