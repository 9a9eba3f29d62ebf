package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/huangsam/feedmirror/schema"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("debug", "json", &buf)
	require.NoError(t, err)

	ForCollection(logger, "refresher", schema.RunsCollection, "p1").WithField("items", 3).Info("merged")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "merged", line["msg"])
	assert.Equal(t, "refresher", line["component"])
	assert.Equal(t, "runs", line["collection"])
	assert.Equal(t, "p1", line["project"])
	assert.EqualValues(t, 3, line["items"])
}

func TestNewLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("warn", "text", &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	logger.Info("hidden")
	assert.Empty(t, buf.String())
	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New("loud", "text", nil)
	assert.Error(t, err)

	_, err = New("info", "xml", nil)
	assert.Error(t, err)
}

func TestComponentNilLogger(t *testing.T) {
	entry := Component(nil, "auditor")
	assert.Equal(t, "auditor", entry.Data["component"])
}
