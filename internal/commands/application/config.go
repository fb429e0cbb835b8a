package application

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	commands "github.com/kovacsmedia/SchoolLive-backend/internal/commands/domain"
)

// TenantPolicy overrides dispatch settings for a single tenant.
type TenantPolicy struct {
	MaxRetries *int `yaml:"max_retries"`
}

// Policy defines the dispatch timeout/retry settings. Defaults match the
// linear backoff: 30s base, 5m ceiling, 3 retries.
type Policy struct {
	BaseAckTimeoutMS int                     `yaml:"base_ack_timeout_ms"`
	MaxAckTimeoutMS  int                     `yaml:"max_ack_timeout_ms"`
	MaxRetries       int                     `yaml:"max_retries"`
	Tenants          map[string]TenantPolicy `yaml:"tenants"`
}

// DefaultPolicy returns the built-in dispatch policy.
func DefaultPolicy() Policy {
	return Policy{
		BaseAckTimeoutMS: int(commands.DefaultBaseAckTimeout / time.Millisecond),
		MaxAckTimeoutMS:  int(commands.DefaultMaxAckTimeout / time.Millisecond),
		MaxRetries:       commands.DefaultMaxRetries,
	}
}

// LoadPolicy loads the policy from a yaml file, falling back to defaults for
// unset values. An empty path returns the defaults.
func LoadPolicy(path string) (Policy, error) {
	cfg := DefaultPolicy()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.BaseAckTimeoutMS <= 0 {
		cfg.BaseAckTimeoutMS = int(commands.DefaultBaseAckTimeout / time.Millisecond)
	}
	if cfg.MaxAckTimeoutMS <= 0 {
		cfg.MaxAckTimeoutMS = int(commands.DefaultMaxAckTimeout / time.Millisecond)
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = commands.DefaultMaxRetries
	}
	return cfg, nil
}

// Backoff returns the backoff policy derived from the configured timeouts.
func (p Policy) Backoff() commands.Backoff {
	return commands.Backoff{
		Base:    time.Duration(p.BaseAckTimeoutMS) * time.Millisecond,
		Ceiling: time.Duration(p.MaxAckTimeoutMS) * time.Millisecond,
	}
}

// RetriesFor resolves the retry cap for a tenant.
func (p Policy) RetriesFor(tenantID string) int {
	if override, ok := p.Tenants[tenantID]; ok && override.MaxRetries != nil && *override.MaxRetries >= 0 {
		return *override.MaxRetries
	}
	return p.MaxRetries
}
