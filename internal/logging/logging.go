package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Configure builds a zerolog logger from config values. When logFile is set,
// every entry is also appended to it as a plain text line; the returned
// closer releases that file.
func Configure(level, format, logFile string) (zerolog.Logger, io.Closer, error) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var output io.Writer = os.Stdout
	if strings.EqualFold(format, "console") {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var closer io.Closer = nopCloser{}
	if logFile != "" {
		file, err := openAppendOnly(logFile)
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		closer = file
		output = zerolog.MultiLevelWriter(output, FileWriter(file))
	}

	return zerolog.New(output).Level(lvl).With().Timestamp().Logger(), closer, nil
}

// FileWriter renders entries as "<time> <LVL> message key=value" lines.
func FileWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: time.RFC3339}
}

func openAppendOnly(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
