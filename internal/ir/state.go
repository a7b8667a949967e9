package ir

// State represents the persisted record of everything a previous apply created.
type State struct {
	Version   int              `pkl:"version"`
	Serial    int              `pkl:"serial"`
	Lineage   string           `pkl:"lineage"`
	Resources []*ResourceState `pkl:"resources"`
	Outputs   map[string]any   `pkl:"outputs"`
}

// ResourceState is the durable record of one created resource: its last
// applied inputs (sensitive values redacted), the fingerprint of the fully
// resolved inputs, and the computed attributes the provider assigned.
type ResourceState struct {
	Type         string         `pkl:"type"`
	Name         string         `pkl:"name"`
	Provider     string         `pkl:"provider"`
	Inputs       map[string]any `pkl:"inputs"`
	InputsHash   string         `pkl:"inputsHash"`
	Outputs      map[string]any `pkl:"outputs"`
	Dependencies []string       `pkl:"dependencies"`
}

// Addr returns the address (type.name) of the recorded resource.
func (r *ResourceState) Addr() string {
	return r.Type + "." + r.Name
}

// ResourceByAddr returns the state record with the given address, or nil.
func (s *State) ResourceByAddr(addr string) *ResourceState {
	for _, res := range s.Resources {
		if res.Addr() == addr {
			return res
		}
	}
	return nil
}

// Upsert replaces the record with the same address, or appends a new one.
func (s *State) Upsert(rec *ResourceState) {
	for i, res := range s.Resources {
		if res.Addr() == rec.Addr() {
			s.Resources[i] = rec
			return
		}
	}
	s.Resources = append(s.Resources, rec)
}

// Remove deletes the record with the given address, if present.
func (s *State) Remove(addr string) {
	for i, res := range s.Resources {
		if res.Addr() == addr {
			s.Resources = append(s.Resources[:i], s.Resources[i+1:]...)
			return
		}
	}
}
