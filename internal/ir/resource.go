package ir

// Resource type names understood by providers. Each corresponds to one
// provisioning operation on the backing cloud.
const (
	TypeNetwork    = "compute_network"
	TypeSubnetwork = "compute_subnetwork"
	TypeAddress    = "compute_address"
	TypeFirewall   = "compute_firewall"
	TypeInstance   = "compute_instance"
)

// Resource represents a single declared entity. Property values are literals,
// nested blocks (maps/lists), or strings carrying ${type.name.attribute}
// interpolations that reference other resources.
type Resource struct {
	Type       string         `pkl:"type"`
	Name       string         `pkl:"name"`
	Provider   string         `pkl:"provider"`
	DependsOn  []string       `pkl:"dependsOn"`
	Sensitive  []string       `pkl:"sensitive"` // property names redacted in diffs and state
	Properties map[string]any `pkl:"properties"`
}

// Addr returns the resource address (type.name), unique within a declaration.
func (r *Resource) Addr() string {
	return r.Type + "." + r.Name
}

// IsSensitive reports whether the named top-level property is declared sensitive.
func (r *Resource) IsSensitive(property string) bool {
	for _, s := range r.Sensitive {
		if s == property {
			return true
		}
	}
	return false
}

// RedactedValue is stored and displayed in place of sensitive property values.
const RedactedValue = "(sensitive)"

// RedactInputs returns a copy of inputs with sensitive top-level properties
// replaced by RedactedValue. The fingerprint is computed before redaction, so
// secret changes are still detected across applies.
func (r *Resource) RedactInputs(inputs map[string]any) map[string]any {
	if len(r.Sensitive) == 0 {
		return inputs
	}
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		if r.IsSensitive(k) {
			out[k] = RedactedValue
		} else {
			out[k] = v
		}
	}
	return out
}
