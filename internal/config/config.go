// Package config resolves provider configuration from the process
// environment. The registry is built once at startup and read-only
// thereafter.
package config

import (
	"errors"
	"fmt"
	"strings"
)

// Provider names understood by the registry.
const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
)

const (
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultDeepSeekBaseURL = "https://api.deepseek.com"

	defaultOpenAIModel   = "gpt-3.5-turbo"
	defaultDeepSeekModel = "deepseek-chat"
)

// Provider holds the resolved configuration for one completion provider.
type Provider struct {
	Name       string
	Credential string
	BaseURL    string
	Model      string
	Enabled    bool
}

// Registry is an immutable name -> Provider mapping.
type Registry struct {
	providers map[string]Provider
	def       string
}

// LookupFunc reads one environment variable, reporting whether it was set.
// os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Load builds the registry from the environment. OpenAI is always registered
// and is the default provider. DeepSeek is registered but stays disabled
// unless DEEPSEEK_ENABLED=true; the secondary path is known-unstable and
// kept behind the switch.
func Load(lookup LookupFunc) (*Registry, error) {
	if lookup == nil {
		return nil, errors.New("config: lookup func must not be nil")
	}

	openai := Provider{
		Name:       ProviderOpenAI,
		Credential: envStr(lookup, "OPENAI_API_KEY", ""),
		BaseURL:    envStr(lookup, "OPENAI_BASE_URL", defaultOpenAIBaseURL),
		Model:      envStr(lookup, "OPENAI_MODEL", defaultOpenAIModel),
		Enabled:    true,
	}
	deepseek := Provider{
		Name:       ProviderDeepSeek,
		Credential: envStr(lookup, "DEEPSEEK_API_KEY", ""),
		BaseURL:    envStr(lookup, "DEEPSEEK_BASE_URL", defaultDeepSeekBaseURL),
		Model:      envStr(lookup, "DEEPSEEK_MODEL", defaultDeepSeekModel),
		Enabled:    envBool(lookup, "DEEPSEEK_ENABLED"),
	}

	return &Registry{
		providers: map[string]Provider{
			ProviderOpenAI:   openai,
			ProviderDeepSeek: deepseek,
		},
		def: ProviderOpenAI,
	}, nil
}

// Default returns the name of the default provider.
func (r *Registry) Default() string {
	return r.def
}

// Resolve returns the configuration for the named provider, or the default
// provider when name is empty. Unknown and disabled providers are errors;
// a missing credential is not — that is the caller's user-facing condition.
func (r *Registry) Resolve(name string) (Provider, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		name = r.def
	}
	p, ok := r.providers[name]
	if !ok {
		return Provider{}, fmt.Errorf("config: unknown provider %q", name)
	}
	if !p.Enabled {
		return Provider{}, fmt.Errorf("config: provider %q is disabled", name)
	}
	return p, nil
}

// SetCredential returns a copy of the registry with the named provider's
// credential replaced. Used by the entrypoint to fill credentials from the
// parameter store before the registry is handed out; the registry itself
// stays immutable afterwards.
func (r *Registry) SetCredential(name, credential string) *Registry {
	next := &Registry{providers: make(map[string]Provider, len(r.providers)), def: r.def}
	for k, v := range r.providers {
		if k == name {
			v.Credential = credential
		}
		next.providers[k] = v
	}
	return next
}

// Names returns the registered provider names, default first.
func (r *Registry) Names() []string {
	names := []string{r.def}
	for k := range r.providers {
		if k != r.def {
			names = append(names, k)
		}
	}
	return names
}

func envStr(lookup LookupFunc, key, def string) string {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func envBool(lookup LookupFunc, key string) bool {
	v, ok := lookup(key)
	return ok && strings.EqualFold(strings.TrimSpace(v), "true")
}
