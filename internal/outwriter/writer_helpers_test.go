package outwriter

import (
	"bytes"
	"testing"
	"time"

	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, map[string]int{"a": 1}))
	assert.Equal(t, "{\n  \"a\": 1\n}\n", buf.String())

	err := writeJSON(&buf, make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to encode JSON")
}

func TestFormatAge(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "-"},
		{42 * time.Second, "42s"},
		{90 * time.Minute, "1h30m0s"},
		{72 * time.Hour, "3d"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatAge(tt.in))
	}
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "-", formatTime(nil))
	ts := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-06-20T12:00:00Z", formatTime(&ts))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}

func TestGetMaxReasonWidth(t *testing.T) {
	assert.Equal(t, 12, getMaxReasonWidth(&contract.Config{Width: 80}))
	assert.Equal(t, 25, getMaxReasonWidth(&contract.Config{Width: 120}))
	assert.Equal(t, 60, getMaxReasonWidth(&contract.Config{Width: 300}))
}
