package logger

import (
	"flag"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Log is an instance of the global logrus.Logger
var Log *logrus.Logger
var logLevel logrus.Level
var initializeLogger sync.Once

func buildFormatter(format string) logrus.Formatter {
	switch strings.ToUpper(format) {
	case "JSON":
		return &logrus.JSONFormatter{}
	default:
		return &logrus.TextFormatter{}
	}
}

// InitLogger initializes the logger instance
func InitLogger() {

	initializeLogger.Do(func() {

		logconfig := viper.New()
		logconfig.SetDefault("LOG_LEVEL", "INFO")
		logconfig.SetDefault("LOG_FORMAT", "text")
		logconfig.SetEnvPrefix("SUBTENANT_MGMT")
		logconfig.AutomaticEnv()
		format := logconfig.GetString("LOG_FORMAT")

		switch strings.ToUpper(logconfig.GetString("LOG_LEVEL")) {
		case "TRACE":
			logLevel = logrus.TraceLevel
		case "DEBUG":
			logLevel = logrus.DebugLevel
		case "ERROR":
			logLevel = logrus.ErrorLevel
		default:
			logLevel = logrus.InfoLevel
		}
		if flag.Lookup("test.v") != nil {
			logLevel = logrus.FatalLevel
		}

		formatter := buildFormatter(format)

		Log = &logrus.Logger{
			Out:       os.Stdout,
			Level:     logLevel,
			Formatter: formatter,
			Hooks:     make(logrus.LevelHooks),
		}
	})
}

func LogError(msg string, err error) {
	Log.WithFields(logrus.Fields{"error": err}).Error(msg)
}

func LogFatalError(msg string, err error) {
	Log.WithFields(logrus.Fields{"error": err}).Fatal(msg)
}

func LogErrorWithTenant(msg string, tenant string, err error) {
	Log.WithFields(logrus.Fields{"error": err, "tenant": tenant}).Error(msg)
}
