package utils

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	if os.Getenv("DEBUG") == "true" {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// Logger 按组件命名的日志记录器
type Logger struct {
	entry *logrus.Entry
}

func NewLogger(name string) *Logger {
	return &Logger{entry: base.WithField("component", name)}
}

// SetLevel 设置全局日志级别，DEBUG=true 时始终为 debug
func SetLevel(level string) error {
	if os.Getenv("DEBUG") == "true" {
		base.SetLevel(logrus.DebugLevel)
		return nil
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}
	base.SetLevel(lvl)
	return nil
}

// SetOutput 重定向全局日志输出
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// WithField 返回附带额外字段的记录器
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}
