package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime/debug"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/palemoky/danmaku-sync/internal/config"
)

var (
	rotator *lumberjack.Logger
	logPath string
)

// Init routes the std logger to stdout and, when a file is configured,
// to a size-rotated log file as well.
func Init(cfg config.LogConfig) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)

	if cfg.File == "" {
		log.SetOutput(os.Stdout)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath = cfg.File
	rotator = &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))

	LogInfo("Logger initialized, log file: %s", logPath)
	return nil
}

// InitClient sends the std logger to a file under the user's home so the
// terminal viewer keeps the alt screen clean.
func InitClient() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	logDir := filepath.Join(homeDir, ".danmaku-sync")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath = filepath.Join(logDir, "client.log")
	rotator = &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    10,
		MaxBackups: 2,
	}
	log.SetOutput(rotator)
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)

	LogInfo("Logger initialized, log file: %s", logPath)
	return nil
}

// Close flushes and closes the rotating file, if any
func Close() {
	if rotator != nil {
		_ = rotator.Close()
	}
}

// LogInfo logs an info message
func LogInfo(format string, args ...any) {
	log.Printf("[INFO] "+format, args...)
}

// LogError logs an error message
func LogError(format string, args ...any) {
	log.Printf("[ERROR] "+format, args...)
}

// LogPanic logs a panic with stack trace
func LogPanic(r any) {
	log.Printf("[PANIC] %v\n%s", r, debug.Stack())
}

// GetLogPath returns the current log file path
func GetLogPath() string {
	return logPath
}
