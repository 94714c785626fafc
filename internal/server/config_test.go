package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.LogFile)
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("ALLOWED_ORIGINS", "https://chat.example.com,http://localhost:3000")
	t.Setenv("MAX_MESSAGE_SIZE", "1024")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FILE", "/tmp/roomchat.log")

	cfg, err := NewConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, []string{"https://chat.example.com", "http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(1024), cfg.MaxMessageSize)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/tmp/roomchat.log", cfg.LogFile)
}

func TestNewConfigFromEnvKeepsDefaults(t *testing.T) {
	t.Setenv("SERVER_PORT", ":7000")

	cfg, err := NewConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Port)
	assert.Equal(t, NewConfig().AllowedOrigins, cfg.AllowedOrigins)
	assert.Equal(t, int64(defaultMaxMessageSize), cfg.MaxMessageSize)
}

func TestNewConfigFromEnvInvalid(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "lots")

	_, err := NewConfigFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env")
}

func TestSetConfigSanitizes(t *testing.T) {
	t.Cleanup(func() { SetConfig(nil) })

	SetConfig(&Config{
		AllowedOrigins: []string{" HTTPS://Chat.Example.com/path ", "not a url", ""},
		MaxMessageSize: -1,
	})

	cfg := currentConfig()
	assert.Equal(t, defaultPort, cfg.Port)
	assert.Equal(t, int64(defaultMaxMessageSize), cfg.MaxMessageSize)
	assert.Equal(t, defaultLogLevel, cfg.LogLevel)
	assert.Equal(t, []string{"https://chat.example.com"}, cfg.AllowedOrigins)
}

func TestSetConfigCopiesOrigins(t *testing.T) {
	t.Cleanup(func() { SetConfig(nil) })

	origins := []string{"http://a.example.com"}
	SetConfig(&Config{AllowedOrigins: origins})
	origins[0] = "http://b.example.com"

	assert.Equal(t, []string{"http://a.example.com"}, currentConfig().AllowedOrigins)
}

func TestSetConfigNilResets(t *testing.T) {
	SetConfig(&Config{Port: ":1"})
	SetConfig(nil)

	assert.Equal(t, *NewConfig(), currentConfig())
}

func TestSetConfigReturnsIgnoredOrigins(t *testing.T) {
	t.Cleanup(func() { SetConfig(nil) })

	ignored := SetConfig(&Config{AllowedOrigins: []string{"http://ok.example.com", "not a url", " "}})
	assert.Equal(t, []string{"not a url"}, ignored)
	assert.Equal(t, []string{"http://ok.example.com"}, currentConfig().AllowedOrigins)

	assert.Empty(t, SetConfig(nil))
}
