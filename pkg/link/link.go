package link

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

const (
	// DefaultBaudRate is the baud rate of the rig MCUs.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the default size for the lines channel buffer.
	DefaultBufferSize = 100
	// ArmCommand starts the sequencer once the rig is ready.
	ArmCommand = 'S'

	maxLineLength = 1024
)

// ErrNotConnected is returned when writing to a link that is not connected.
var ErrNotConnected = errors.New("link not connected")

// Link is a newline-terminated ASCII connection to a rig controller (real or mocked).
type Link interface {
	Connect() error
	Close() error
	Lines() <-chan string
	Write(p []byte) (int, error)
	IsConnected() bool
}

// Ensure Serial implements Link.
var _ Link = (*Serial)(nil)

// Ensure mocks implement Link.
var (
	_ Link = (*MockController)(nil)
	_ Link = (*MockTachometer)(nil)
)

// Option configures a Serial link.
type Option func(s *Serial)

// WithLogger sets the logger for the link.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Serial) {
		s.logger = logger.With(slog.String("port", s.port))
	}
}

// WithReadTimeout bounds every read so the reader re-checks for shutdown.
func WithReadTimeout(timeout time.Duration) Option {
	return func(s *Serial) {
		s.readTimeout = timeout
	}
}

// Arm sends the start command to the sequencer.
func Arm(l Link) error {
	if _, err := l.Write([]byte{ArmCommand}); err != nil {
		return fmt.Errorf("failed to send arm command: %w", err)
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// lineBuffer splits a byte stream into trimmed, non-empty lines.
type lineBuffer struct {
	pending []byte
}

// Feed appends p to the buffer and returns every completed line.
// An unterminated line longer than maxLineLength is discarded.
func (b *lineBuffer) Feed(p []byte) []string {
	b.pending = append(b.pending, p...)

	var lines []string
	for {
		i := bytes.IndexByte(b.pending, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(b.pending[:i]))
		b.pending = b.pending[i+1:]
		if line != "" {
			lines = append(lines, line)
		}
	}

	if len(b.pending) > maxLineLength {
		b.pending = b.pending[:0]
	}
	return lines
}
