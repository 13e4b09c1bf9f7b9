package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": Debug, "": Info, "INFO": Info, "warning": Warn, "error": Error}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" JSON ")
	require.NoError(t, err)
	assert.Equal(t, JSON, f)
	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, Text, f)
	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Debug, JSON, &buf).With(F("subsystem", "router"))
	l.Warn("frame dropped", F("channel", "time"), Err(errors.New("short frame")))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "frame dropped", entry["msg"])
	assert.Equal(t, "router", entry["subsystem"])
	assert.Equal(t, "time", entry["channel"])
	assert.Equal(t, "short frame", entry["error"])
}

func TestTextLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Warn, Text, &buf)
	l.Info("hidden")
	l.Error("shown", F("n", 3))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.True(t, strings.Contains(out, "n=3"), out)
}

func TestDefaultIsReplaceable(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	var buf bytes.Buffer
	SetDefault(New(Info, JSON, &buf))
	OrDefault(nil).Info("hello")
	assert.Contains(t, buf.String(), "hello")

	SetDefault(nil)
	assert.NotNil(t, Default())
}
