// Package logging builds the per-component loggers.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"gopkg.in/ini.v1"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Loggers holds one entry per component.
type Loggers struct {
	Core     *logrus.Entry
	SIP      *logrus.Entry
	HTTP     *logrus.Entry
	Telegram *logrus.Entry

	// TDLibLevel is the verbosity handed to TDLib's own logger.
	TDLibLevel int

	file *lumberjack.Logger
}

// Init configures loggers from the [logging] section. Levels use the 0..6
// scale of settings.ini: 0 trace, 1 debug, 2 info, 3 warn, 4 error,
// 5 fatal, 6 off.
func Init(cfg *ini.File) *Loggers {
	return initWith(cfg, os.Stdout)
}

func initWith(cfg *ini.File, console io.Writer) *Loggers {
	sec := cfg.Section("logging")

	consoleMin := toLogrusLevel(sec.Key("console_min_level").MustInt(0))
	fileMin := toLogrusLevel(sec.Key("file_min_level").MustInt(0))

	file := &lumberjack.Logger{
		Filename:   sec.Key("file").MustString("sip2gate.log"),
		MaxSize:    100, // megabytes
		MaxBackups: 1,
	}

	var skip func(*logrus.Entry) bool
	if !sec.Key("sip_messages").MustBool(false) {
		skip = isSIPMessageDump
	}

	sinks := func(filter func(*logrus.Entry) bool) []logrus.Hook {
		return []logrus.Hook{
			&writerHook{Writer: console, LogLevels: availableLevels(consoleMin), Skip: filter},
			&writerHook{Writer: file, LogLevels: availableLevels(fileMin), Skip: filter},
		}
	}

	l := &Loggers{file: file, TDLibLevel: sec.Key("tdlib").MustInt(1)}
	l.Core = newLogger("core", toLogrusLevel(sec.Key("core").MustInt(2)), sinks, nil)
	l.SIP = newLogger("sip", toLogrusLevel(sec.Key("sip").MustInt(3)), sinks, skip)
	l.HTTP = newLogger("http", toLogrusLevel(sec.Key("http").MustInt(2)), sinks, nil)
	l.Telegram = newLogger("telegram", toLogrusLevel(sec.Key("telegram").MustInt(2)), sinks, nil)
	return l
}

// Close flushes and closes the log file.
func (l *Loggers) Close() {
	if l.file != nil {
		_ = l.file.Close()
	}
}

// writerHook writes entries at the given levels to Writer.
type writerHook struct {
	Writer    io.Writer
	LogLevels []logrus.Level
	Skip      func(*logrus.Entry) bool
}

func (h *writerHook) Fire(e *logrus.Entry) error {
	if h.Skip != nil && h.Skip(e) {
		return nil
	}
	line, err := e.String()
	if err != nil {
		return err
	}
	_, err = h.Writer.Write([]byte(line))
	return err
}

func (h *writerHook) Levels() []logrus.Level {
	return h.LogLevels
}

func newLogger(name string, level logrus.Level, sinks func(func(*logrus.Entry) bool) []logrus.Hook, skip func(*logrus.Entry) bool) *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(io.Discard)
	logger.SetFormatter(&prefixed.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
		ForceFormatting: true,
	})
	for _, h := range sinks(skip) {
		logger.AddHook(h)
	}
	return logger.WithField("prefix", name)
}

// availableLevels returns every level at least as severe as min.
func availableLevels(min logrus.Level) []logrus.Level {
	levels := []logrus.Level{}
	for _, l := range logrus.AllLevels {
		if l <= min {
			levels = append(levels, l)
		}
	}
	return levels
}

func toLogrusLevel(v int) logrus.Level {
	switch {
	case v <= 0:
		return logrus.TraceLevel
	case v == 1:
		return logrus.DebugLevel
	case v == 2:
		return logrus.InfoLevel
	case v == 3:
		return logrus.WarnLevel
	case v == 4:
		return logrus.ErrorLevel
	case v == 5:
		return logrus.FatalLevel
	default:
		return logrus.PanicLevel // off
	}
}

// isSIPMessageDump matches the full message dumps gosip writes at trace
// level.
func isSIPMessageDump(e *logrus.Entry) bool {
	if _, ok := e.Data["sip_message"]; ok {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.HasPrefix(msg, "received sip message") || strings.HasPrefix(msg, "sending sip message")
}
