package logging

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// Options control the shared logger configuration.
type Options struct {
	Level  string
	Format string // "text" or "json"
	Path   string // optional log file, tee'd with stdout
}

var (
	mu      sync.Mutex
	base    = logrus.New()
	logFile *os.File
	logPath string

	loggers   = make(map[string]*logrus.Entry)
	loggersMu sync.Mutex
)

// Init configures the shared logger. Safe to call more than once; the
// previously opened log file is closed.
func Init(opts Options) {
	mu.Lock()
	defer mu.Unlock()

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch opts.Format {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   isatty.IsTerminal(os.Stdout.Fd()) && opts.Path == "",
			DisableColors: !isatty.IsTerminal(os.Stdout.Fd()),
		})
	}

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	logPath = opts.Path
	base.SetOutput(os.Stdout)
	if opts.Path == "" {
		return
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
		base.Warnf("cannot create log directory: %v", err)
		return
	}
	f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		base.Warnf("cannot open log file %s: %v", opts.Path, err)
		return
	}
	logFile = f
	base.SetOutput(io.MultiWriter(os.Stdout, logFile))
	base.Infof("Logging to file: %s", opts.Path)
}

// NewLogger returns the logger for a component, tagged with a "component"
// field. Loggers are cached per component.
func NewLogger(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[component]; ok {
		return l
	}
	l := base.WithField("component", component)
	loggers[component] = l
	return l
}

// ReadTail returns the last n lines from the log file. Without a log file
// it returns an empty string.
func ReadTail(n int) (string, error) {
	mu.Lock()
	defer mu.Unlock()

	if logPath == "" {
		return "", nil
	}
	f, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan log file: %w", err)
	}

	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n"), nil
}

// Clear truncates the log file.
func Clear() error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		if err := logFile.Truncate(0); err != nil {
			return fmt.Errorf("truncate log file: %w", err)
		}
		if _, err := logFile.Seek(0, 0); err != nil {
			return fmt.Errorf("seek log file: %w", err)
		}
		return nil
	}
	if logPath == "" {
		return nil
	}
	return os.Truncate(logPath, 0)
}
