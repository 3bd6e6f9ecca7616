package engine

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLogger(t *testing.T) {
	t.Run("text by default, info level", func(t *testing.T) {
		var buf bytes.Buffer
		l := newLogger(slog.LevelInfo, "", &buf)
		l.Debug("hidden")
		l.Info("shown")
		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, "msg=shown")
	})

	t.Run("json format", func(t *testing.T) {
		var buf bytes.Buffer
		l := newLogger(slog.LevelDebug, "json", &buf)
		l.Debug("detail")
		assert.Contains(t, buf.String(), `"msg":"detail"`)
	})
}
