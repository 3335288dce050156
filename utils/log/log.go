package log

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel accepts logrus level names; unknown names keep the current level.
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		logger.Warnf("unknown log level %q, keeping %s", level, logger.GetLevel())
		return
	}
	logger.SetLevel(lvl)
}

func Logger() *logrus.Logger {
	return logger
}

func WithField(key string, value any) *logrus.Entry {
	return logger.WithField(key, value)
}

func Debugf(format string, args ...any) { logger.Debugf(format, args...) }
func Info(args ...any)                  { logger.Info(args...) }
func Infof(format string, args ...any)  { logger.Infof(format, args...) }
func Warn(args ...any)                  { logger.Warn(args...) }
func Warnf(format string, args ...any)  { logger.Warnf(format, args...) }
func Error(args ...any)                 { logger.Error(args...) }
func Errorf(format string, args ...any) { logger.Errorf(format, args...) }
func Fatal(args ...any)                 { logger.Fatal(args...) }
func Fatalf(format string, args ...any) { logger.Fatalf(format, args...) }
