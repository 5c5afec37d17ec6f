package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

type testAppender struct {
	tb testing.TB
}

// NewTestAppender returns an appender that writes each entry as one tab separated line to
// tb.Log. Output is only shown when a test fails or is run with -v.
func NewTestAppender(tb testing.TB) Appender {
	return &testAppender{tb}
}

func (tapp *testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	tapp.tb.Helper()
	var line strings.Builder
	line.WriteString(entry.Time.Format(DefaultTimeFormatStr))
	for _, part := range []string{strings.ToUpper(entry.Level.String()), entry.LoggerName} {
		line.WriteByte('\t')
		line.WriteString(part)
	}
	if entry.Caller.Defined {
		line.WriteByte('\t')
		line.WriteString(entry.Caller.TrimmedPath())
	}
	line.WriteByte('\t')
	line.WriteString(entry.Message)

	var err error
	if len(fields) > 0 {
		// fields keep their order in the json object
		enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true})
		buf, encErr := enc.EncodeEntry(zapcore.Entry{}, fields)
		if encErr == nil {
			line.WriteByte('\t')
			line.WriteString(buf.String())
			buf.Free()
		}
		err = encErr
	}
	tapp.tb.Log(line.String())
	return err
}

func (tapp *testAppender) Sync() error {
	return nil
}
