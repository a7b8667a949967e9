package ir

// Config represents the top-level declaration: the desired resources, the
// output expressions evaluated after apply, per-provider settings, and the
// optional state backend.
type Config struct {
	Resources []*Resource                  `pkl:"resources"`
	Outputs   map[string]string            `pkl:"outputs"`
	Providers map[string]map[string]string `pkl:"providers"`
	Backend   *Backend                     `pkl:"backend"`
}

// Backend names where state is stored. An absent or "local" backend keeps
// state in the workspace's .terrapin directory.
type Backend struct {
	Type   string            `pkl:"type"`
	Config map[string]string `pkl:"config"`
}

// ResourceByAddr returns the declared resource with the given address, or nil.
func (c *Config) ResourceByAddr(addr string) *Resource {
	for _, res := range c.Resources {
		if res.Addr() == addr {
			return res
		}
	}
	return nil
}
