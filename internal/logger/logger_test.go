package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	defer func(l zerolog.Logger, lvl zerolog.Level) {
		log.Logger = l
		zerolog.SetGlobalLevel(lvl)
	}(log.Logger, zerolog.GlobalLevel())

	t.Run("should write json to the console", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := New(Config{Level: "info", Console: true, Out: &buf})
		require.NoError(t, err)
		defer l.Close()

		zl := l.Zerolog()
		zl.Info().Str("agent", "main").Msg("hello")
		zl.Debug().Msg("hidden")

		assert.Contains(t, buf.String(), `"agent":"main"`)
		assert.Contains(t, buf.String(), `"message":"hello"`)
		assert.NotContains(t, buf.String(), "hidden")
	})

	t.Run("should write to file and install the global logger", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "stepwise.log")
		l, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)

		log.Debug().Msg("from global")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "from global")
	})

	t.Run("should redact secrets in every sink", func(t *testing.T) {
		var buf bytes.Buffer
		logFile := filepath.Join(t.TempDir(), "stepwise.log")
		l, err := New(Config{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Out:       &buf,
			File:      logFile,
			Redaction: true,
		})
		require.NoError(t, err)

		cl := l.Component("llm")
		cl.Info().Str("settings", "api_key=secret1,api_base=http://a").Msg("pool")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "secret1")
		assert.Contains(t, string(data), `"component":"llm"`)
		assert.NotContains(t, buf.String(), "secret1")
		assert.Contains(t, buf.String(), "[REDACTED]")
	})

	t.Run("should fall back to info on a bad level", func(t *testing.T) {
		l, err := New(Config{Level: "loud"})
		require.NoError(t, err)
		assert.Equal(t, zerolog.InfoLevel, l.Zerolog().GetLevel())
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 50, cfg.MaxSizeMB)
}
