package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

var logger *logrus.Logger

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`
	LogDir     string `json:"log_dir" yaml:"log_dir"`
	MaxSize    int    `json:"max_size" yaml:"max_size"`       // MB
	MaxBackups int    `json:"max_backups" yaml:"max_backups"` // Number of backup files
	MaxAge     int    `json:"max_age" yaml:"max_age"`         // Days
	Compress   bool   `json:"compress" yaml:"compress"`
}

// DefaultLogConfig returns default logging configuration
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:      "info",
		LogDir:     "logs",
		MaxSize:    100, // 100MB
		MaxBackups: 30,  // 30 backup files
		MaxAge:     30,  // 30 days
		Compress:   true,
	}
}

// InitLogger initializes the logger with default configuration
func InitLogger() {
	InitLoggerWithConfig(DefaultLogConfig())
}

// InitLoggerWithConfig initializes the logger with custom configuration
func InitLoggerWithConfig(config *LogConfig) {
	logger = logrus.New()

	// Set log level
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Create log directory if it doesn't exist
	if err := os.MkdirAll(config.LogDir, 0755); err != nil {
		fmt.Printf("Failed to create log directory: %v\n", err)
		// Fallback to stdout
		logger.SetOutput(os.Stdout)
	} else {
		// Set up daily log file
		logFile := getDailyLogFile(config.LogDir)
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			fmt.Printf("Failed to open log file: %v\n", err)
			// Fallback to stdout
			logger.SetOutput(os.Stdout)
		} else {
			// Use both file and stdout for development
			logger.SetOutput(io.MultiWriter(file, os.Stdout))
		}
	}

	// Set JSON formatter with timestamp
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	// Log initialization
	logger.WithFields(logrus.Fields{
		"component": "logger",
		"log_dir":   config.LogDir,
		"level":     config.Level,
	}).Info("Logger initialized successfully")
}

// getDailyLogFile returns the log file path for the current day
func getDailyLogFile(logDir string) string {
	today := time.Now().Format("2006-01-02")
	return filepath.Join(logDir, fmt.Sprintf("marketdata_%s.log", today))
}

// Info logs an info message
func Info(msg string, args ...interface{}) {
	if logger != nil {
		logger.Infof(msg, args...)
	}
}

// Error logs an error message
func Error(msg string, args ...interface{}) {
	if logger != nil {
		logger.Errorf(msg, args...)
	}
}

// Fatal logs a fatal message and exits
func Fatal(msg string, args ...interface{}) {
	if logger != nil {
		logger.Fatalf(msg, args...)
	}
}

// Fatalf logs a fatal message with format and exits
func Fatalf(format string, args ...interface{}) {
	if logger != nil {
		logger.Fatalf(format, args...)
	}
}

// Warn logs a warning message
func Warn(msg string, args ...interface{}) {
	if logger != nil {
		logger.Warnf(msg, args...)
	}
}

// Debug logs a debug message
func Debug(msg string, args ...interface{}) {
	if logger != nil {
		logger.Debugf(msg, args...)
	}
}

// Domain-specific structured logging functions, one family per component.

// CandleInfo logs Candle Store / Candle Builder info messages with structured fields
func CandleInfo(instrument, timeframe, message string, fields map[string]interface{}) {
	if logger != nil {
		logFields := logrus.Fields{
			"component":   "candle",
			"instrument":  instrument,
			"timeframe":   timeframe,
		}
		for key, value := range fields {
			logFields[key] = value
		}
		logger.WithFields(logFields).Info(message)
	}
}

// CandleError logs Candle Store / Candle Builder error messages with structured fields
func CandleError(instrument, timeframe, message string, err error, fields map[string]interface{}) {
	if logger != nil {
		logFields := logrus.Fields{
			"component":  "candle",
			"instrument": instrument,
			"timeframe":  timeframe,
		}
		if err != nil {
			logFields["error"] = err.Error()
		}
		for key, value := range fields {
			logFields[key] = value
		}
		logger.WithFields(logFields).Error(message)
	}
}

// GapWarn logs Gap Detector findings
func GapWarn(instrument, timeframe, message string, fields map[string]interface{}) {
	if logger != nil {
		logFields := logrus.Fields{
			"component":  "gap_detector",
			"instrument": instrument,
			"timeframe":  timeframe,
		}
		for key, value := range fields {
			logFields[key] = value
		}
		logger.WithFields(logFields).Warn(message)
	}
}

// BackfillInfo logs Backfill Queue / Fetcher info messages
func BackfillInfo(jobID, message string, fields map[string]interface{}) {
	if logger != nil {
		logFields := logrus.Fields{
			"component": "backfill",
			"job_id":    jobID,
		}
		for key, value := range fields {
			logFields[key] = value
		}
		logger.WithFields(logFields).Info(message)
	}
}

// BackfillError logs Backfill Queue / Fetcher error messages
func BackfillError(jobID, message string, err error, fields map[string]interface{}) {
	if logger != nil {
		logFields := logrus.Fields{
			"component": "backfill",
			"job_id":    jobID,
		}
		if err != nil {
			logFields["error"] = err.Error()
		}
		for key, value := range fields {
			logFields[key] = value
		}
		logger.WithFields(logFields).Error(message)
	}
}

// QueueInfo logs Backfill Queue lease/complete/fail/reap lifecycle events
func QueueInfo(action, message string, fields map[string]interface{}) {
	if logger != nil {
		logFields := logrus.Fields{
			"component": "backfill_queue",
			"action":    action,
		}
		for key, value := range fields {
			logFields[key] = value
		}
		logger.WithFields(logFields).Info(message)
	}
}

// HealthInfo logs Health Monitor snapshot events
func HealthInfo(message string, fields map[string]interface{}) {
	if logger != nil {
		logFields := logrus.Fields{
			"component": "health_monitor",
		}
		for key, value := range fields {
			logFields[key] = value
		}
		logger.WithFields(logFields).Info(message)
	}
}

// HealthError logs Health Monitor append failures (non-fatal by contract)
func HealthError(message string, err error, fields map[string]interface{}) {
	if logger != nil {
		logFields := logrus.Fields{
			"component": "health_monitor",
		}
		if err != nil {
			logFields["error"] = err.Error()
		}
		for key, value := range fields {
			logFields[key] = value
		}
		logger.WithFields(logFields).Error(message)
	}
}
