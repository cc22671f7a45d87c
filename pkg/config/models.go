package config

import (
	"fmt"
	"strings"
)

// Provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Credential variables, looked up in the secrets file and then the environment.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
)

// DefaultOllamaHost is used when OLLAMA_HOST is not set.
const DefaultOllamaHost = "http://localhost:11434"

// Limits assumed for models missing from the price list.
const (
	fallbackContextTokens = 32000
	fallbackOutputTokens  = 4096
)

// ModelInfo describes a model the coach can price.
type ModelInfo struct {
	Provider         string
	InputCPM         float64 // USD per million prompt tokens
	OutputCPM        float64 // USD per million completion tokens
	MaxContextTokens int
	MaxOutputTokens  int
}

// Cost returns the USD price of one call.
func (m ModelInfo) Cost(promptTokens, completionTokens int) float64 {
	return (float64(promptTokens)*m.InputCPM + float64(completionTokens)*m.OutputCPM) / 1e6
}

// KnownModels is the price list. Coaching replies are short, so output limits
// matter more than context size here.
//
//nolint:gochecknoglobals // static price list
var KnownModels = map[string]ModelInfo{
	"claude-sonnet-4-20250514":   {ProviderAnthropic, 3.0, 15.0, 200_000, 8192},
	"claude-3-5-sonnet-20241022": {ProviderAnthropic, 3.0, 15.0, 200_000, 8192},
	"claude-3-5-haiku-20241022":  {ProviderAnthropic, 0.8, 4.0, 200_000, 8192},
	"gpt-4o":                     {ProviderOpenAI, 2.5, 10.0, 128_000, 4096},
	"gpt-4o-mini":                {ProviderOpenAI, 0.15, 0.6, 128_000, 16384},
	"gemini-2.0-flash":           {ProviderGoogle, 0.10, 0.40, 1_048_576, 8192},
	"gemini-2.5-flash":           {ProviderGoogle, 0.30, 2.50, 1_048_576, 65536},
}

// modelFamilies maps name prefixes to providers for models not on the price
// list. Local models run through Ollama; "ollama:" forces it.
//
//nolint:gochecknoglobals // static inference rules
var modelFamilies = map[string][]string{
	ProviderAnthropic: {"claude"},
	ProviderOpenAI:    {"gpt", "o1", "o3", "o4"},
	ProviderGoogle:    {"gemini"},
	ProviderOllama:    {"ollama:", "llama", "phi", "qwen", "mistral", "gemma"},
}

// GetModelProvider returns the provider serving modelName.
func GetModelProvider(modelName string) (string, error) {
	if info, ok := KnownModels[modelName]; ok {
		return info.Provider, nil
	}
	for provider, prefixes := range modelFamilies {
		for _, prefix := range prefixes {
			if strings.HasPrefix(modelName, prefix) {
				return provider, nil
			}
		}
	}
	return "", fmt.Errorf("unknown model '%s': cannot tell which provider serves it", modelName)
}

// GetModelInfo returns the price list entry for modelName. For an unknown model
// it reports false and returns zero prices with fallback limits.
func GetModelInfo(modelName string) (ModelInfo, bool) {
	if info, ok := KnownModels[modelName]; ok {
		return info, true
	}
	provider, _ := GetModelProvider(modelName)
	return ModelInfo{
		Provider:         provider,
		MaxContextTokens: fallbackContextTokens,
		MaxOutputTokens:  fallbackOutputTokens,
	}, false
}

// CalculateCost returns the USD cost of a call. Unknown models cost nothing.
func CalculateCost(modelName string, promptTokens, completionTokens int) float64 {
	info, _ := GetModelInfo(modelName)
	return info.Cost(promptTokens, completionTokens)
}

// GetAPIKey returns the credential for provider. For Ollama, which needs no key,
// it returns the host URL instead.
func GetAPIKey(provider string) (string, error) {
	if provider == ProviderOllama {
		if host, err := GetSecret(EnvOllamaHost); err == nil {
			return host, nil
		}
		return DefaultOllamaHost, nil
	}

	envVar, ok := map[string]string{
		ProviderAnthropic: EnvAnthropicAPIKey,
		ProviderOpenAI:    EnvOpenAIAPIKey,
		ProviderGoogle:    EnvGoogleAPIKey,
	}[provider]
	if !ok {
		return "", fmt.Errorf("unknown provider: %s", provider)
	}
	key, err := GetSecret(envVar)
	if err != nil {
		return "", fmt.Errorf("API key for %s missing: %w", provider, err)
	}
	return key, nil
}
