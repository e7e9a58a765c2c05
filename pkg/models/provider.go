package models

import "time"

// ProviderInstance is a configured integration, identified by type+alias,
// e.g. a specific GitHub or Slack connection within a namespace. Secrets are
// handed to matchers for handshake verification and merged into the runtime
// payload's provider configuration map.
type ProviderInstance struct {
	ID          string            `json:"id"           validate:"required"`
	NamespaceID string            `json:"namespace_id" validate:"required"`
	Type        string            `json:"type"         validate:"required"`
	Alias       string            `json:"alias"        validate:"required"`
	Config      map[string]any    `json:"config"`
	Secrets     map[string]string `json:"secrets,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// MergedConfig returns configuration with secrets merged in, as delivered to
// user code through the runtime payload.
func (p *ProviderInstance) MergedConfig() map[string]any {
	merged := make(map[string]any, len(p.Config)+len(p.Secrets))

	for k, v := range p.Config {
		merged[k] = v
	}

	for k, v := range p.Secrets {
		merged[k] = v
	}

	return merged
}
