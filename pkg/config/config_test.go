package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, cfg.Model.Name)
	assert.Equal(t, 300, cfg.Model.FeedbackMaxTokens)
	assert.Equal(t, 200, cfg.Model.ReplyMaxTokens)
	assert.Equal(t, time.Hour, cfg.Server.SessionTTL)
	assert.Equal(t, ProviderAnthropic, cfg.Provider())
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	chdirTemp(t)
	_, err := Load("nope.yaml")
	assert.Error(t, err)
}

func TestLoadYAMLAndEnvOverrides(t *testing.T) {
	dir := chdirTemp(t)
	yamlText := `
model:
  name: gpt-4o
  temperature: 0.3
resilience:
  timeout: 45s
  rate_limit:
    openai:
      tokens_per_minute: 1000
      max_concurrency: 1
server:
  listen_addr: ":9000"
  session_ttl: 30m
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(yamlText), 0600))
	t.Setenv(EnvListenAddr, ":9100")
	t.Setenv(EnvTimeout, "20")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.Model.Name)
	assert.InDelta(t, 0.3, cfg.Model.Temperature, 0.0001)
	assert.Equal(t, 300, cfg.Model.FeedbackMaxTokens, "unset keys keep defaults")
	assert.Equal(t, ":9100", cfg.Server.ListenAddr)
	assert.Equal(t, 30*time.Minute, cfg.Server.SessionTTL)
	assert.Equal(t, 20*time.Second, cfg.Resilience.Timeout)
	assert.Equal(t, 1000, cfg.Resilience.RateLimit.OpenAI.TokensPerMinute)
	assert.Equal(t, ProviderDefaults[ProviderGoogle], cfg.Resilience.RateLimit.Google)
	assert.Equal(t, ProviderOpenAI, cfg.Provider())
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("COACH_MODEL=gemini-2.0-flash\n"), 0600))
	t.Setenv(EnvModel, "")
	require.NoError(t, os.Unsetenv(EnvModel))
	t.Cleanup(func() { _ = os.Unsetenv(EnvModel) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", cfg.Model.Name)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty model", func(c *Config) { c.Model.Name = "" }},
		{"unknown provider", func(c *Config) { c.Model.Name = "mystery-model" }},
		{"zero feedback tokens", func(c *Config) { c.Model.FeedbackMaxTokens = 0 }},
		{"temperature too high", func(c *Config) { c.Model.Temperature = 2.5 }},
		{"no timeout", func(c *Config) { c.Resilience.Timeout = 0 }},
		{"no attempts", func(c *Config) { c.Resilience.Retry.MaxAttempts = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestInvalidEnvDuration(t *testing.T) {
	chdirTemp(t)
	t.Setenv(EnvSessionTTL, "soon")
	_, err := Load("")
	assert.Error(t, err)
}

func TestGetConfigRequiresLoad(t *testing.T) {
	mu.Lock()
	saved := current
	current = nil
	mu.Unlock()
	defer func() {
		mu.Lock()
		current = saved
		mu.Unlock()
	}()

	_, err := GetConfig()
	assert.Error(t, err)

	SetConfig(Default())
	cfg, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, cfg.Model.Name)
}

func TestModelRegistry(t *testing.T) {
	provider, err := GetModelProvider("claude-3-5-sonnet-20241022")
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, provider)

	provider, err = GetModelProvider("llama3.1:8b")
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, provider)

	_, err = GetModelProvider("unknown")
	assert.Error(t, err)

	info, known := GetModelInfo("gpt-4o-mini")
	assert.True(t, known)
	assert.Equal(t, ProviderOpenAI, info.Provider)

	info, known = GetModelInfo("gemini-9-ultra")
	assert.False(t, known)
	assert.Equal(t, ProviderGoogle, info.Provider)
	assert.Equal(t, 4096, info.MaxOutputTokens)
}

func TestCalculateCost(t *testing.T) {
	cost := CalculateCost("claude-3-5-sonnet-20241022", 1_000_000, 100_000)
	assert.InDelta(t, 3.0+1.5, cost, 1e-9)
	assert.Zero(t, CalculateCost("phi4", 1000, 1000))
}

func TestGetAPIKey(t *testing.T) {
	SetDecryptedSecrets(nil)
	t.Setenv(EnvAnthropicAPIKey, "sk-ant-env")
	key, err := GetAPIKey(ProviderAnthropic)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-env", key)

	t.Setenv(EnvOpenAIAPIKey, "")
	_, err = GetAPIKey(ProviderOpenAI)
	assert.Error(t, err)

	t.Setenv(EnvOllamaHost, "")
	host, err := GetAPIKey(ProviderOllama)
	require.NoError(t, err)
	assert.Equal(t, DefaultOllamaHost, host)

	_, err = GetAPIKey("acme")
	assert.Error(t, err)
}
