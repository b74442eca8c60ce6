package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDebugToggle(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetDebug(false)

	Debug("hidden %d", 1)
	assert.Empty(t, buf.String())

	SetDebug(true)
	Debug("shown %d", 2)
	assert.Contains(t, buf.String(), "[DEBUG]")
	assert.Contains(t, buf.String(), "shown 2")
}

func TestLevelsPrefix(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	Warn("careful")
	Error("broken")
	Info("plain")

	out := buf.String()
	assert.Contains(t, out, "[WARN] ")
	assert.Contains(t, out, "[ERROR] ")
	assert.Contains(t, out, "plain")
}
