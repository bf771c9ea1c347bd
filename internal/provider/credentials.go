package provider

import (
	"os"
	"strings"
)

// CredentialResolver looks up the API key for a provider id.
type CredentialResolver interface {
	// Resolve returns the credential for the given provider id. ok is
	// false when no credential is configured.
	Resolve(providerID string) (key string, ok bool)
}

// envVarsByProvider maps provider ids to the environment variables their
// keys live in.
var envVarsByProvider = map[string]string{
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderGoogle:    "GEMINI_API_KEY",
}

// EnvCredentials resolves credentials from the process environment.
type EnvCredentials struct{}

func (EnvCredentials) Resolve(providerID string) (string, bool) {
	envVar, known := envVarsByProvider[providerID]
	if !known {
		return "", false
	}
	key := strings.TrimSpace(os.Getenv(envVar))
	return key, key != ""
}

// StaticCredentials resolves from a fixed map, for tests and embedding.
type StaticCredentials map[string]string

func (s StaticCredentials) Resolve(providerID string) (string, bool) {
	key, ok := s[providerID]
	return key, ok && key != ""
}
