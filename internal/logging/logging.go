// Package logging configures the shared logrus instance used across every
// provider and the composition root, including the caller-tagged line
// format and the optional rotation to a logs/ directory via lumberjack.
// A sync.Once-guarded global setup with caller-tagged formatting and
// file rotation; the gin-specific writer wiring a web server would need
// is dropped since this daemon exposes no HTTP server of its own.
package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	setupOnce sync.Once
	writerMu  sync.Mutex
	logWriter *lumberjack.Logger
)

// Formatter renders one log entry as "[time] [level] [file:line] message".
type Formatter struct{}

// Format implements logrus.Formatter.
func (f *Formatter) Format(entry *log.Entry) ([]byte, error) {
	buffer := entry.Buffer
	if buffer == nil {
		buffer = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")
	source := "?"
	if entry.Caller != nil {
		source = fmt.Sprintf("%s:%d", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	buffer.WriteString(fmt.Sprintf("[%s] [%s] [%s] %s\n", timestamp, entry.Level, source, message))
	return buffer.Bytes(), nil
}

// Setup configures the shared logrus instance. It is safe to call more
// than once; only the first call takes effect.
func Setup(debug bool) {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(true)
		log.SetFormatter(&Formatter{})
		if debug {
			log.SetLevel(log.DebugLevel)
		} else {
			log.SetLevel(log.InfoLevel)
		}
	})
}

// ConfigureOutput switches the global log destination between a rotating
// file under dir and stdout.
func ConfigureOutput(toFile bool, dir string) error {
	writerMu.Lock()
	defer writerMu.Unlock()

	if !toFile {
		if logWriter != nil {
			_ = logWriter.Close()
			logWriter = nil
		}
		log.SetOutput(os.Stdout)
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("logging: create log dir: %w", err)
	}
	if logWriter != nil {
		_ = logWriter.Close()
	}
	logWriter = &lumberjack.Logger{
		Filename:   filepath.Join(dir, "codexbar.log"),
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     14,
		Compress:   true,
	}
	log.SetOutput(logWriter)
	return nil
}

// Close releases the rotating file writer, if one is in use.
func Close() {
	writerMu.Lock()
	defer writerMu.Unlock()
	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
}
