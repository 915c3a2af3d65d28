package link

import (
	"strings"
	"testing"
	"time"

	"github.com/itohio/proprig/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineBuffer_Feed(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []string
	}{
		{
			name:   "single line",
			chunks: []string{"PWM:1500\n"},
			want:   []string{"PWM:1500"},
		},
		{
			name:   "crlf terminated",
			chunks: []string{"1500,4800,1.22\r\n"},
			want:   []string{"1500,4800,1.22"},
		},
		{
			name:   "line split across reads",
			chunks: []string{"15", "00,48", "00,1.2\n"},
			want:   []string{"1500,4800,1.2"},
		},
		{
			name:   "several lines in one read",
			chunks: []string{"PWM:1100\n1100,2000,1.2\nPWM:12"},
			want:   []string{"PWM:1100", "1100,2000,1.2"},
		},
		{
			name:   "blank lines skipped",
			chunks: []string{"\n\r\n  \n4800.5\n"},
			want:   []string{"4800.5"},
		},
		{
			name:   "unterminated line",
			chunks: []string{"4800"},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var lb lineBuffer
			var got []string
			for _, c := range tt.chunks {
				got = append(got, lb.Feed([]byte(c))...)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLineBuffer_OverlongLineDiscarded(t *testing.T) {
	var lb lineBuffer

	lines := lb.Feed([]byte(strings.Repeat("x", maxLineLength+1)))
	assert.Empty(t, lines)
	assert.Empty(t, lb.pending)

	lines = lb.Feed([]byte("4800\n"))
	assert.Equal(t, []string{"4800"}, lines)
}

func TestNew(t *testing.T) {
	s := New("COM3", 57600, 10, WithReadTimeout(250*time.Millisecond))
	assert.NotNil(t, s)
	assert.Equal(t, "COM3", s.port)
	assert.Equal(t, 57600, s.baudRate)
	assert.Equal(t, 10, s.bufSize)
	assert.Equal(t, 250*time.Millisecond, s.readTimeout)
	assert.False(t, s.IsConnected())
}

func TestNew_Defaults(t *testing.T) {
	s := New("COM3", 0, 0)
	assert.Equal(t, DefaultBaudRate, s.baudRate)
	assert.Equal(t, DefaultBufferSize, s.bufSize)
	assert.Equal(t, DefaultReadTimeout, s.readTimeout)
}

func TestSerial_WriteNotConnected(t *testing.T) {
	s := New("COM3", 0, 0)
	_, err := s.Write([]byte{ArmCommand})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, s.Close())
}

func testMockConfig() *config.MockConfig {
	cfg := config.Default().Mock
	cfg.PWMSteps = []int{1500, 2000}
	cfg.StepDuration = 20 * time.Millisecond
	cfg.TachRate = 5 * time.Millisecond
	cfg.NoiseLevel = 0
	return &cfg
}

func TestMockController_IdleUntilArmed(t *testing.T) {
	m := NewMock(testMockConfig())
	require.NoError(t, m.Connect())
	defer m.Close()

	select {
	case line := <-m.Lines():
		t.Fatalf("unexpected line before arming: %q", line)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 0.0, m.Throttle())
}

func TestMockController_Sequence(t *testing.T) {
	m := NewMock(testMockConfig())
	require.NoError(t, m.Connect())
	defer m.Close()

	require.NoError(t, Arm(m))

	var lines []string
	timeout := time.After(2 * time.Second)
	for len(lines) < 4 {
		select {
		case line := <-m.Lines():
			lines = append(lines, line)
		case <-timeout:
			t.Fatalf("sequence incomplete: %v", lines)
		}
	}

	assert.Equal(t, "PWM:1500", lines[0])
	assert.Equal(t, "1500,6000,1.2250", lines[1])
	assert.Equal(t, "PWM:2000", lines[2])
	assert.Equal(t, "2000,12000,1.2250", lines[3])
}

func TestMockController_GracefulShutdown(t *testing.T) {
	m := NewMock(testMockConfig())
	require.NoError(t, m.Connect())
	assert.True(t, m.IsConnected())

	require.NoError(t, m.Close())
	assert.False(t, m.IsConnected())

	_, ok := <-m.Lines()
	assert.False(t, ok, "Channel should be closed")

	_, err := m.Write([]byte{ArmCommand})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestMockTachometer_Lines(t *testing.T) {
	cfg := testMockConfig()
	tach := NewMockTachometer(cfg, func() float64 { return 0.5 })
	require.NoError(t, tach.Connect())

	select {
	case line := <-tach.Lines():
		assert.Equal(t, "6000.0", line)
	case <-time.After(time.Second):
		t.Fatal("no tachometer line received")
	}

	require.NoError(t, tach.Close())
	for range tach.Lines() {
		// drain until closed
	}
}

func TestMockTachometer_NoiseLines(t *testing.T) {
	cfg := testMockConfig()
	cfg.NoiseLevel = 0.01
	tach := NewMockTachometer(cfg, func() float64 { return 1 })

	assert.Equal(t, "#", tach.nextLine(10))
	assert.Equal(t, "0", tach.nextLine(20))
	assert.NotEqual(t, "#", tach.nextLine(11))
}
