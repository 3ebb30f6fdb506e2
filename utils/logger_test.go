package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatMessageIncludesLevel(t *testing.T) {
	l := NewLogger(INFO)
	line := l.formatMessage(WARN, "cycle took %ds", 3)
	assert.Contains(t, line, "[WARN] cycle took 3s")
}

func TestWithComponentTagsLines(t *testing.T) {
	l := NewLogger(INFO).WithComponent("monitor")
	line := l.formatMessage(INFO, "cycle complete")
	assert.Contains(t, line, "[INFO] [monitor] cycle complete")
}

func TestWithComponentDoesNotMutateParent(t *testing.T) {
	parent := NewLogger(INFO)
	_ = parent.WithComponent("monitor")
	line := parent.formatMessage(INFO, "plain")
	assert.NotContains(t, line, "[monitor]")
}

func TestLevelStrings(t *testing.T) {
	assert.Equal(t, "DEBUG", DEBUG.String())
	assert.Equal(t, "INFO", INFO.String())
	assert.Equal(t, "WARN", WARN.String())
	assert.Equal(t, "ERROR", ERROR.String())
}
