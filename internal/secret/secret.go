// Package secret wraps sensitive values so they cannot leak through default
// formatting, logging, or serialization. The raw value is only reachable
// through an explicit Reveal call at the point of use.
package secret

// String holds a sensitive string value, such as an API key.
type String struct {
	v string
}

// New wraps a raw sensitive value.
func New(v string) String {
	return String{v: v}
}

// Reveal returns the raw value. Call sites are the audit surface for where
// secrets actually flow.
func (s String) Reveal() string {
	return s.v
}

// IsZero reports whether no value was set.
func (s String) IsZero() bool {
	return s.v == ""
}

func (s String) String() string {
	return "(sensitive)"
}

func (s String) GoString() string {
	return `secret.String("(sensitive)")`
}

// MarshalJSON always serializes the redaction marker, never the value.
func (s String) MarshalJSON() ([]byte, error) {
	return []byte(`"(sensitive)"`), nil
}
