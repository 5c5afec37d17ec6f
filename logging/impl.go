package logging

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type impl struct {
	name  string
	level AtomicLevel

	inUTC     bool
	appenders []Appender
}

func newImpl(name string, level Level, inUTC bool, appenders ...Appender) *impl {
	return &impl{
		name:      name,
		level:     NewAtomicLevelAt(level),
		inUTC:     inUTC,
		appenders: appenders,
	}
}

func (imp *impl) NewLogger(name string) Logger {
	newName := imp.name
	if newName == "" {
		newName = name
	} else if name != "" {
		newName = fmt.Sprintf("%s.%s", imp.name, name)
	}
	return &impl{
		name:      newName,
		level:     NewAtomicLevelAt(imp.level.Get()),
		inUTC:     imp.inUTC,
		appenders: imp.appenders,
	}
}

func (imp *impl) Sublogger(subname string) Logger {
	return imp.NewLogger(subname)
}

func (imp *impl) AddAppender(appender Appender) {
	imp.appenders = append(imp.appenders, appender)
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Get()
}

func (imp *impl) Sync() error {
	var errs error
	for _, appender := range imp.appenders {
		errs = multierr.Combine(errs, appender.Sync())
	}
	return errs
}

// AsZap returns a sugared zap logger that writes through this logger's appenders. It is for
// handing to libraries that only accept zap.
func (imp *impl) AsZap() *zap.SugaredLogger {
	cores := make([]zapcore.Core, 0, len(imp.appenders))
	for _, appender := range imp.appenders {
		cores = append(cores, &appenderCore{appender: appender, level: imp.level})
	}
	return zap.New(zapcore.NewTee(cores...)).Sugar().Named(imp.name)
}

func (imp *impl) shouldLog(logLevel Level) bool {
	return logLevel >= imp.level.Get()
}

func (imp *impl) log(entry *LogEntry) {
	for _, appender := range imp.appenders {
		//nolint:errcheck
		appender.Write(entry.Entry, entry.fields)
	}
}

// LogEntry embeds a zapcore Entry and slice of Fields.
type LogEntry struct {
	zapcore.Entry
	fields []zapcore.Field
}

// Fields returns the structured fields attached to the entry.
func (entry *LogEntry) Fields() []zapcore.Field {
	return entry.fields
}

// Constructs the log message by forwarding to `fmt.Sprint`.
func (imp *impl) format(logLevel Level, args ...interface{}) *LogEntry {
	logEntry := imp.newLogEntry()
	logEntry.Level = logLevel.AsZap()
	logEntry.Message = fmt.Sprint(args...)
	return logEntry
}

// Constructs the log message by forwarding to `fmt.Sprintf`.
func (imp *impl) formatf(logLevel Level, template string, args ...interface{}) *LogEntry {
	logEntry := imp.newLogEntry()
	logEntry.Level = logLevel.AsZap()
	logEntry.Message = fmt.Sprintf(template, args...)
	return logEntry
}

// Constructs the log message with structured keys and values. Keys must be strings; values
// that are errors are rendered with their message.
func (imp *impl) formatw(logLevel Level, msg string, keysAndValues ...interface{}) *LogEntry {
	logEntry := imp.newLogEntry()
	logEntry.Level = logLevel.AsZap()
	logEntry.Message = msg

	logEntry.fields = make([]zapcore.Field, 0, len(keysAndValues)/2)
	for keyIdx := 0; keyIdx < len(keysAndValues); keyIdx += 2 {
		keyStr, ok := keysAndValues[keyIdx].(string)
		if !ok {
			keyStr = fmt.Sprint(keysAndValues[keyIdx])
		}
		if keyIdx+1 >= len(keysAndValues) {
			logEntry.fields = append(logEntry.fields, zap.Any(keyStr, "<missing value>"))
			break
		}
		logEntry.fields = append(logEntry.fields, zap.Any(keyStr, keysAndValues[keyIdx+1]))
	}
	return logEntry
}

func (imp *impl) newLogEntry() *LogEntry {
	now := time.Now()
	if imp.inUTC {
		now = now.UTC()
	}
	return &LogEntry{
		Entry: zapcore.Entry{
			LoggerName: imp.name,
			Time:       now,
			Caller:     getCaller(),
		},
	}
}

// getCaller walks the stack until it leaves this package.
func getCaller() zapcore.EntryCaller {
	for skip := 3; skip < 10; skip++ {
		pc, file, line, ok := runtime.Caller(skip)
		if !ok {
			break
		}
		if strings.Contains(file, "/logging/") && !strings.HasSuffix(file, "_test.go") {
			continue
		}
		return zapcore.EntryCaller{Defined: true, PC: pc, File: file, Line: line}
	}
	return zapcore.EntryCaller{}
}

func (imp *impl) Debug(args ...interface{}) {
	if imp.shouldLog(DEBUG) {
		imp.log(imp.format(DEBUG, args...))
	}
}

func (imp *impl) Debugf(template string, args ...interface{}) {
	if imp.shouldLog(DEBUG) {
		imp.log(imp.formatf(DEBUG, template, args...))
	}
}

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	if imp.shouldLog(DEBUG) {
		imp.log(imp.formatw(DEBUG, msg, keysAndValues...))
	}
}

func (imp *impl) CDebugf(ctx context.Context, template string, args ...interface{}) {
	if IsDebugMode(ctx) || imp.shouldLog(DEBUG) {
		imp.log(imp.formatf(DEBUG, template, args...))
	}
}

func (imp *impl) CDebugw(ctx context.Context, msg string, keysAndValues ...interface{}) {
	if IsDebugMode(ctx) || imp.shouldLog(DEBUG) {
		imp.log(imp.formatw(DEBUG, msg, keysAndValues...))
	}
}

func (imp *impl) Info(args ...interface{}) {
	if imp.shouldLog(INFO) {
		imp.log(imp.format(INFO, args...))
	}
}

func (imp *impl) Infof(template string, args ...interface{}) {
	if imp.shouldLog(INFO) {
		imp.log(imp.formatf(INFO, template, args...))
	}
}

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	if imp.shouldLog(INFO) {
		imp.log(imp.formatw(INFO, msg, keysAndValues...))
	}
}

func (imp *impl) CInfof(ctx context.Context, template string, args ...interface{}) {
	if IsDebugMode(ctx) || imp.shouldLog(INFO) {
		imp.log(imp.formatf(INFO, template, args...))
	}
}

func (imp *impl) CInfow(ctx context.Context, msg string, keysAndValues ...interface{}) {
	if IsDebugMode(ctx) || imp.shouldLog(INFO) {
		imp.log(imp.formatw(INFO, msg, keysAndValues...))
	}
}

func (imp *impl) Warn(args ...interface{}) {
	if imp.shouldLog(WARN) {
		imp.log(imp.format(WARN, args...))
	}
}

func (imp *impl) Warnf(template string, args ...interface{}) {
	if imp.shouldLog(WARN) {
		imp.log(imp.formatf(WARN, template, args...))
	}
}

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	if imp.shouldLog(WARN) {
		imp.log(imp.formatw(WARN, msg, keysAndValues...))
	}
}

func (imp *impl) CWarnf(ctx context.Context, template string, args ...interface{}) {
	if IsDebugMode(ctx) || imp.shouldLog(WARN) {
		imp.log(imp.formatf(WARN, template, args...))
	}
}

func (imp *impl) CWarnw(ctx context.Context, msg string, keysAndValues ...interface{}) {
	if IsDebugMode(ctx) || imp.shouldLog(WARN) {
		imp.log(imp.formatw(WARN, msg, keysAndValues...))
	}
}

func (imp *impl) Error(args ...interface{}) {
	if imp.shouldLog(ERROR) {
		imp.log(imp.format(ERROR, args...))
	}
}

func (imp *impl) Errorf(template string, args ...interface{}) {
	if imp.shouldLog(ERROR) {
		imp.log(imp.formatf(ERROR, template, args...))
	}
}

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	if imp.shouldLog(ERROR) {
		imp.log(imp.formatw(ERROR, msg, keysAndValues...))
	}
}

func (imp *impl) CErrorf(ctx context.Context, template string, args ...interface{}) {
	if IsDebugMode(ctx) || imp.shouldLog(ERROR) {
		imp.log(imp.formatf(ERROR, template, args...))
	}
}

func (imp *impl) CErrorw(ctx context.Context, msg string, keysAndValues ...interface{}) {
	if IsDebugMode(ctx) || imp.shouldLog(ERROR) {
		imp.log(imp.formatw(ERROR, msg, keysAndValues...))
	}
}

// appenderCore adapts an Appender back into a zapcore.Core for AsZap.
type appenderCore struct {
	appender Appender
	level    AtomicLevel
	fields   []zapcore.Field
}

func (core *appenderCore) Enabled(level zapcore.Level) bool {
	return level >= core.level.Get().AsZap()
}

func (core *appenderCore) With(fields []zapcore.Field) zapcore.Core {
	combined := make([]zapcore.Field, 0, len(core.fields)+len(fields))
	combined = append(combined, core.fields...)
	combined = append(combined, fields...)
	return &appenderCore{appender: core.appender, level: core.level, fields: combined}
}

func (core *appenderCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if core.Enabled(entry.Level) {
		return checked.AddCore(entry, core)
	}
	return checked
}

func (core *appenderCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if len(core.fields) == 0 {
		return core.appender.Write(entry, fields)
	}
	return core.appender.Write(entry, append(append([]zapcore.Field{}, core.fields...), fields...))
}

func (core *appenderCore) Sync() error {
	return core.appender.Sync()
}
