package serial

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deltastage/stage"
)

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(stage.SerialConfig{Device: "/dev/ttyUSB0", Baud: 9600, ReadTimeoutMs: 50})
	assert.Equal(t, "/dev/ttyUSB0", cfg.Device)
	assert.Equal(t, 9600, cfg.Baud)
	assert.Equal(t, 50*time.Millisecond, cfg.ReadTimeout)
}

func TestFromSettingsDefaults(t *testing.T) {
	cfg := FromSettings(stage.SerialConfig{Device: "COM3"})
	assert.Equal(t, 115200, cfg.Baud)
	assert.Equal(t, 100*time.Millisecond, cfg.ReadTimeout)
}

func TestOpenRejectsMissingDevice(t *testing.T) {
	_, err := Open(nil)
	assert.Error(t, err)

	_, err = Open(DefaultConfig(""))
	assert.Error(t, err)
}

func TestOpenWithRetryReportsEachAttempt(t *testing.T) {
	var attempts []string
	logf := func(format string, args ...interface{}) {
		attempts = append(attempts, format)
	}

	_, err := OpenWithRetry(DefaultConfig(""), 3, time.Millisecond, logf)
	require.Error(t, err)
	assert.Len(t, attempts, 3)
}
