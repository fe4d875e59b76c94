package avesync

import (
	"bytes"
	"encoding/json"
	"log"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useLogger swaps the package logger for the duration of the test.
func useLogger(t *testing.T, logger Logger) {
	prev := pkgLogger
	SetLogger(logger)
	t.Cleanup(func() { SetLogger(prev) })
}

func TestLogger_ZerologLevels(t *testing.T) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf).Level(zerolog.DebugLevel)
	useLogger(t, &zl)

	warnf("decode error at item time %v", 3)
	debugf("state %s", Playing)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var events []map[string]any
	for _, line := range lines {
		var event map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &event))
		events = append(events, event)
	}
	assert.Equal(t, "warn", events[0]["level"])
	assert.Equal(t, "decode error at item time 3", events[0]["message"])
	assert.Equal(t, "debug", events[1]["level"])
	assert.Equal(t, "state Playing", events[1]["message"])
}

func TestLogger_ZerologFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf).Level(zerolog.WarnLevel)
	useLogger(t, &zl)

	debugf("state %s", Playing)
	assert.Empty(t, buf.String())
	warnf("dropping %d deferred rate changes", 2)
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestLogger_PrintfSink(t *testing.T) {
	var buf bytes.Buffer
	useLogger(t, log.New(&buf, "", 0))

	warnf("rewinding backend: %v", "boom")
	debugf("looping at %v", 1)
	assert.Equal(t, "WARNING: rewinding backend: boom\nlooping at 1\n", buf.String())
}
