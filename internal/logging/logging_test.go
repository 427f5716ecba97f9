package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	log, err := New("info", "json", buf)
	require.NoError(t, err)

	log.WithField("batch", 3).Info("wrote batch archive")
	log.Debug("hidden")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "wrote batch archive", entry["msg"])
	assert.EqualValues(t, 3, entry["batch"])
	assert.Equal(t, "info", entry["level"])
}

func TestNewText(t *testing.T) {
	buf := &bytes.Buffer{}
	log, err := New("debug", "", buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	log.Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewErrors(t *testing.T) {
	_, err := New("loud", "text", &bytes.Buffer{})
	assert.Error(t, err)
	_, err = New("info", "xml", &bytes.Buffer{})
	assert.Error(t, err)
}
