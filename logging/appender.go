package logging

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultTimeFormatStr is the default time format string for log appenders.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// Appender is an output for log entries. This is a subset of the `zapcore.Core` interface, so
// any zap core (such as the zaptest observer) can be added to a Logger directly.
type Appender interface {
	// Write submits a structured log entry to the appender for logging.
	Write(zapcore.Entry, []zapcore.Field) error
	// Sync is for signaling that any buffered logs to `Write` should be flushed. E.g: at shutdown.
	Sync() error
}

// ConsoleAppender writes human-readable, tab-delimited log lines to an io.Writer.
type ConsoleAppender struct {
	mu      sync.Mutex
	writer  io.Writer
	encoder zapcore.Encoder
}

// NewStdoutAppender creates a new appender that writes colored console lines to stdout.
func NewStdoutAppender() *ConsoleAppender {
	return NewWriterAppender(os.Stdout)
}

// NewWriterAppender creates a new appender that writes console lines to the given writer.
func NewWriterAppender(writer io.Writer) *ConsoleAppender {
	return &ConsoleAppender{writer: writer, encoder: zapcore.NewConsoleEncoder(consoleEncoderConfig())}
}

// Write outputs the log entry to the underlying writer.
func (appender *ConsoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	buf, err := appender.encoder.EncodeEntry(entry, fields)
	if err != nil {
		return err
	}
	defer buf.Free()

	appender.mu.Lock()
	defer appender.mu.Unlock()
	_, err = appender.writer.Write(buf.Bytes())
	return err
}

// Sync flushes the writer if it supports syncing.
func (appender *ConsoleAppender) Sync() error {
	if syncer, ok := appender.writer.(zapcore.WriteSyncer); ok {
		// stdout returns EINVAL on sync for some terminals; it is not worth surfacing.
		if syncer == os.Stdout || syncer == os.Stderr {
			return nil
		}
		return syncer.Sync()
	}
	return nil
}

// FileAppender writes json log lines to a size-rotated file.
type FileAppender struct {
	mu      sync.Mutex
	file    *lumberjack.Logger
	encoder zapcore.Encoder
}

// NewFileAppender returns an appender writing to filename. The file is rotated once it
// reaches maxSizeMB megabytes and at most maxBackups old files are kept (compressed).
func NewFileAppender(filename string, maxSizeMB, maxBackups int) *FileAppender {
	cfg := consoleEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return &FileAppender{
		file: &lumberjack.Logger{
			Filename:   filename,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			Compress:   true,
		},
		encoder: zapcore.NewJSONEncoder(cfg),
	}
}

// Write outputs the log entry to the log file.
func (appender *FileAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	buf, err := appender.encoder.EncodeEntry(entry, fields)
	if err != nil {
		return err
	}
	defer buf.Free()

	appender.mu.Lock()
	defer appender.mu.Unlock()
	_, err = appender.file.Write(buf.Bytes())
	return err
}

// Sync is a no-op; lumberjack writes through.
func (appender *FileAppender) Sync() error {
	return nil
}

// Close closes the current log file.
func (appender *FileAppender) Close() error {
	appender.mu.Lock()
	defer appender.mu.Unlock()
	return appender.file.Close()
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	// Same keys as zap's production config, with colored levels and no stacktraces.
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  zapcore.OmitKey,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(DefaultTimeFormatStr),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}
