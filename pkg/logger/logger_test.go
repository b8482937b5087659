package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init("warn", "json"))
	SetOutput(&buf)
	defer func() {
		logrus.SetFormatter(&logrus.TextFormatter{})
		logrus.SetLevel(logrus.InfoLevel)
	}()

	For("pipeline").Info("dropped")
	For("pipeline").WithField("source", "a.txt").Warn("skipped")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "skipped", line["message"])
	assert.Equal(t, "pipeline", line["component"])
	assert.Equal(t, "a.txt", line["source"])
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Init("loud", "text"))
}
