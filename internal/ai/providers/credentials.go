package providers

import (
	"context"
	"os"
	"strings"
)

// MinCredentialLength is the shortest credential accepted as real
const MinCredentialLength = 20

// placeholderMarkers are fragments found in sample or test credentials
var placeholderMarkers = []string{
	"your_",
	"your-",
	"placeholder",
	"changeme",
	"test_key",
	"xxxx",
	"sk-test",
	"dummy",
}

// CredentialResolver looks up a provider credential by its key name
type CredentialResolver interface {
	Credential(ctx context.Context, key string) (string, bool)
}

// ValidCredential rejects missing, short and placeholder credentials
func ValidCredential(value string) bool {
	value = strings.TrimSpace(value)
	if len(value) < MinCredentialLength {
		return false
	}
	lower := strings.ToLower(value)
	for _, marker := range placeholderMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return true
}

// EnvResolver reads credentials from environment variables
type EnvResolver struct{}

// Credential returns the environment value for key
func (EnvResolver) Credential(_ context.Context, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	v, ok := os.LookupEnv(key)
	return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
}

// StaticResolver serves credentials from a fixed map
type StaticResolver map[string]string

// Credential returns the mapped value for key
func (s StaticResolver) Credential(_ context.Context, key string) (string, bool) {
	v, ok := s[key]
	return v, ok
}

// ChainResolver tries each resolver in order and returns the first hit
type ChainResolver []CredentialResolver

// Credential returns the first non-empty value for key
func (c ChainResolver) Credential(ctx context.Context, key string) (string, bool) {
	for _, r := range c {
		if r == nil {
			continue
		}
		if v, ok := r.Credential(ctx, key); ok && v != "" {
			return v, true
		}
	}
	return "", false
}
