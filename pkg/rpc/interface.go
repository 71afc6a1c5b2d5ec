package rpc

// MethodSpec describes one remotely callable method: its name and the
// descriptors of its parameter types, in order. A method resolves on the
// server by name and parameter types together.
type MethodSpec struct {
	Name       string
	ParamTypes []string
}

// InterfaceSpec describes a remote interface.
//
// A skeleton serves exactly one interface and a stub targets exactly
// one; both sides hold the same spec, which takes the place the
// reflected interface type holds in runtimes with dynamic proxies.
// Every method of a remote interface can report an invocation failure,
// so a handler is mandatory for each declared method when the interface
// is served.
type InterfaceSpec struct {
	Name    string
	Methods []MethodSpec
}

// Method returns the descriptor for the named method.
func (s *InterfaceSpec) Method(name string) (MethodSpec, bool) {
	for _, m := range s.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return MethodSpec{}, false
}

// validate rejects specs that cannot describe a remote interface.
func (s *InterfaceSpec) validate() error {
	if s == nil {
		return Errorf("interface spec is nil")
	}
	if s.Name == "" {
		return Errorf("interface spec has no name")
	}
	if len(s.Methods) == 0 {
		return Errorf("interface %s declares no methods", s.Name)
	}
	seen := make(map[string]bool, len(s.Methods))
	for _, m := range s.Methods {
		if m.Name == "" {
			return Errorf("interface %s declares an unnamed method", s.Name)
		}
		if seen[m.Name] {
			return Errorf("interface %s declares method %s twice", s.Name, m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}

func paramTypesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
