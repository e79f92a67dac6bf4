package utils

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"lan_presence/internal/dataType"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogxManager owns the service logger and the access logger. Both write to
// stdout and, when a base path is set, to info.log, error.log and debug.log
// under it.
type LogxManager struct {
	basePath string
	logger   *zap.Logger
	access   *zap.Logger
	files    []*os.File
}

func NewManager(base string, debug bool) *LogxManager {
	m := &LogxManager{basePath: base}

	appEnc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	})
	accessEnc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{MessageKey: "msg", LineEnding: zapcore.DefaultLineEnding})

	stdoutLv := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= zapcore.InfoLevel || (debug && l == zapcore.DebugLevel)
	})
	stdout := zapcore.Lock(os.Stdout)

	appCores := []zapcore.Core{zapcore.NewCore(appEnc, stdout, stdoutLv)}
	accessCores := []zapcore.Core{zapcore.NewCore(accessEnc, stdout, stdoutLv)}

	if base != "" {
		if err := os.MkdirAll(base, 0744); err != nil {
			log.Printf("failed to create base log dir %s: %v", base, err)
		}
		infoOut := zapcore.AddSync(m.openLogFile(filepath.Join(base, "info.log")))
		errorOut := zapcore.AddSync(m.openLogFile(filepath.Join(base, "error.log")))
		dbgOut := zapcore.AddSync(m.openLogFile(filepath.Join(base, "debug.log")))

		infoLv := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l == zapcore.InfoLevel || l == zapcore.WarnLevel })
		errLv := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= zapcore.ErrorLevel })
		dbgLv := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return debug && l == zapcore.DebugLevel })

		for _, enc := range []struct {
			encoder zapcore.Encoder
			cores   *[]zapcore.Core
		}{{appEnc, &appCores}, {accessEnc, &accessCores}} {
			*enc.cores = append(*enc.cores,
				zapcore.NewCore(enc.encoder, infoOut, infoLv),
				zapcore.NewCore(enc.encoder, errorOut, errLv),
				zapcore.NewCore(enc.encoder, dbgOut, dbgLv),
			)
		}
	}

	m.logger = zap.New(zapcore.NewTee(appCores...))
	m.access = zap.New(zapcore.NewTee(accessCores...))
	return m
}

func (m *LogxManager) openLogFile(path string) *os.File {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file %s: %v", path, err)
		return os.Stdout
	}
	m.files = append(m.files, f)
	return f
}

// Logger returns the structured service logger.
func (m *LogxManager) Logger() *zap.Logger {
	return m.logger
}

// LogAccess writes one combined-log style line for an API request.
// Identity and request id are encoded as fields so client supplied text
// never lands in the line unescaped. Server errors also land in error.log.
func (m *LogxManager) LogAccess(e dataType.AccessEntry) {
	line := fmt.Sprintf("%s - - [%s] %s %s %d %s",
		printable(e.RemoteIP),
		time.Now().Format("02/Jan/2006:15:04:05 -0700"),
		printable(e.Method),
		printable(e.Uri),
		e.Status,
		printable(GetClearanceUserAgent(e.UserAgent)),
	)
	var fields []zap.Field
	if e.Identity != "" {
		fields = append(fields, zap.String("identity", e.Identity))
	}
	if e.RequestID != "" {
		fields = append(fields, zap.String("request_id", e.RequestID))
	}
	if e.Status >= 500 {
		m.access.Error(line, fields...)
		return
	}
	m.access.Info(line, fields...)
}

// printable quotes s when it carries control characters.
func printable(s string) string {
	if strings.IndexFunc(s, unicode.IsControl) < 0 {
		return s
	}
	q := strconv.Quote(s)
	return q[1 : len(q)-1]
}

// Close flushes both loggers and closes the log files.
func (m *LogxManager) Close() error {
	_ = m.logger.Sync()
	_ = m.access.Sync()
	var err error
	for _, f := range m.files {
		err = multierr.Append(err, f.Close())
	}
	m.files = nil
	return err
}
