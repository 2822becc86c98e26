package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level is the minimum severity a Logger writes.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the upper-case tag used in log entries.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel converts a config value such as "debug" or "WARN" into a Level.
// An empty string yields LevelInfo.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Options configures where and how much the package logs.
// Apply them with Configure before creating loggers.
type Options struct {
	// Dir is the directory holding the instance log file.
	// Empty means ~/.browserd/logs.
	Dir string

	// Level drops entries below this severity.
	Level Level

	// Stderr mirrors every entry to standard error.
	Stderr bool
}

// Logger writes component-tagged entries to the instance log file.
// Every logger created in one process shares the same file, named after the
// instance ID: <dir>/<instance-id>-browserd.log.
type Logger struct {
	instanceID string
	component  string
	level      Level
	file       *os.File
	logger     *log.Logger
	mu         sync.Mutex
	logPath    string
	closeOnce  sync.Once
}

var (
	instanceID     string
	instanceIDOnce sync.Once

	logDir   string
	initOnce sync.Once
	initErr  error

	optsMu sync.RWMutex
	opts   = Options{Level: LevelInfo}
)

// Configure sets the package-wide logging options. It must run before the
// first NewLogger call for Dir to take effect.
func Configure(o Options) {
	optsMu.Lock()
	defer optsMu.Unlock()
	opts = o
}

func currentOptions() Options {
	optsMu.RLock()
	defer optsMu.RUnlock()
	return opts
}

func getInstanceID() string {
	instanceIDOnce.Do(func() {
		instanceID = uuid.New().String()
	})
	return instanceID
}

func initLogDirectory() error {
	initOnce.Do(func() {
		dir := currentOptions().Dir
		if dir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				initErr = fmt.Errorf("failed to get home directory: %w", err)
				return
			}
			dir = filepath.Join(homeDir, ".browserd", "logs")
		}

		if err := os.MkdirAll(dir, 0750); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
			return
		}
		logDir = dir
	})
	return initErr
}

// NewLogger creates a logger for one component.
//
// If the log directory or file cannot be opened it returns a stderr logger
// together with the error, so callers can warn and keep going.
func NewLogger(component string) (*Logger, error) {
	o := currentOptions()
	if err := initLogDirectory(); err != nil {
		return newFallbackLogger(component, o.Level, err), err
	}

	id := getInstanceID()
	logPath := filepath.Join(logDir, fmt.Sprintf("%s-browserd.log", id))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		err = fmt.Errorf("failed to open log file: %w", err)
		return newFallbackLogger(component, o.Level, err), err
	}

	var out io.Writer = file
	if o.Stderr {
		out = io.MultiWriter(file, os.Stderr)
	}

	return &Logger{
		instanceID: id,
		component:  component,
		level:      o.Level,
		file:       file,
		logger:     log.New(out, "", 0),
		logPath:    logPath,
	}, nil
}

func newFallbackLogger(component string, level Level, err error) *Logger {
	logger := log.New(os.Stderr, "", 0)
	l := &Logger{
		instanceID: getInstanceID(),
		component:  component,
		level:      level,
		logger:     logger,
	}
	l.Warnf("file logging unavailable, writing to stderr: %v", err)
	return l
}

// Nop returns a logger that discards everything. Useful in tests and for
// components constructed without a logger.
func Nop() *Logger {
	return &Logger{
		component: "nop",
		level:     LevelError + 1,
		logger:    log.New(io.Discard, "", 0),
	}
}

// With returns a logger for a sub-component sharing this logger's output.
func (l *Logger) With(component string) *Logger {
	return &Logger{
		instanceID: l.instanceID,
		component:  l.component + "." + component,
		level:      l.level,
		logger:     l.logger,
		logPath:    l.logPath,
	}
}

func (l *Logger) write(level Level, format string, v ...interface{}) {
	if l == nil || level < l.level {
		return
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	message := fmt.Sprintf(format, v...)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Printf("[%s] [%s] [%s] %s", timestamp, l.component, level, message)
}

// Debugf logs a debug-level message.
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.write(LevelDebug, format, v...)
}

// Infof logs an info-level message.
func (l *Logger) Infof(format string, v ...interface{}) {
	l.write(LevelInfo, format, v...)
}

// Warnf logs a warning-level message.
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.write(LevelWarn, format, v...)
}

// Errorf logs an error-level message.
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.write(LevelError, format, v...)
}

// Writer returns the logger's destination, for libraries that want an
// io.Writer. Loggers from With share their parent's destination.
func (l *Logger) Writer() io.Writer {
	return l.logger.Writer()
}

// InstanceID returns the ID shared by every logger in this process.
func (l *Logger) InstanceID() string {
	return l.instanceID
}

// LogPath returns the log file path, or "" for stderr-only loggers.
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close closes the log file. Safe to call multiple times.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}
