package discovery

import "github.com/louisbranch/ucp-hub/internal/services/commerce/registry"

// Profile is a merchant's discovery document.
type Profile struct {
	UCP     Metadata `json:"ucp"`
	Payment *Payment `json:"payment,omitempty"`
}

// Metadata is the ucp section of a profile.
type Metadata struct {
	Version      string         `json:"version"`
	Services     map[string]any `json:"services,omitempty"`
	Capabilities []Capability   `json:"capabilities"`
}

// Capability is one advertised capability.
type Capability struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Spec    string `json:"spec,omitempty"`
	Schema  string `json:"schema,omitempty"`
	Extends string `json:"extends,omitempty"`
}

// Payment lists the merchant's payment handlers.
type Payment struct {
	Handlers []PaymentHandler `json:"handlers"`
}

// PaymentHandler is one payment method offered by the merchant.
type PaymentHandler struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Version           string         `json:"version,omitempty"`
	Spec              string         `json:"spec,omitempty"`
	ConfigSchema      string         `json:"config_schema,omitempty"`
	InstrumentSchemas []string       `json:"instrument_schemas,omitempty"`
	Config            map[string]any `json:"config,omitempty"`
}

// Capabilities converts the profile's capabilities into registry entries.
func (p *Profile) Capabilities() []registry.Capability {
	if p == nil {
		return nil
	}
	out := make([]registry.Capability, 0, len(p.UCP.Capabilities))
	for _, capability := range p.UCP.Capabilities {
		out = append(out, registry.Capability{
			Name:    capability.Name,
			Spec:    capability.Spec,
			Version: capability.Version,
		})
	}
	return out
}

// PaymentHandlers returns the profile's payment handlers, if any.
func (p *Profile) PaymentHandlers() []PaymentHandler {
	if p == nil || p.Payment == nil {
		return nil
	}
	return p.Payment.Handlers
}
