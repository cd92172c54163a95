package capability

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gafferhq/gaffer/pkg/errors"
)

// Registry holds all invokable capabilities by unique name. It is built once
// at startup, frozen by Discover, and read-only afterwards, so steady-state
// lookups need no synchronization.
type Registry struct {
	caps   map[string]Capability
	names  []string
	frozen bool
}

// NewRegistry creates an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]Capability)}
}

// Register adds a capability. Duplicate names and registration after
// discovery are errors.
func (r *Registry) Register(cap Capability) error {
	if r.frozen {
		return errors.New(errors.CodeConfiguration, "registry is frozen after discovery", nil).
			WithContext("capability", cap.Name())
	}
	if err := ValidateName(cap.Name()); err != nil {
		return err
	}
	if _, exists := r.caps[cap.Name()]; exists {
		return errors.New(errors.CodeConfiguration,
			fmt.Sprintf("duplicate capability name %q", cap.Name()), nil)
	}
	r.caps[cap.Name()] = cap
	return nil
}

// Discover registers all given capabilities in one deterministic pass and
// freezes the registry. The stable name ordering makes startup validation
// reproducible.
func Discover(caps ...Capability) (*Registry, error) {
	r := NewRegistry()
	for _, c := range caps {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	r.names = make([]string, 0, len(r.caps))
	for name := range r.caps {
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	r.frozen = true
	return r, nil
}

// Lookup returns the capability with the given name.
func (r *Registry) Lookup(name string) (Capability, error) {
	cap, ok := r.caps[name]
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			fmt.Sprintf("capability %q not found", name), nil)
	}
	return cap, nil
}

// Has reports whether a capability with the given name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.caps[name]
	return ok
}

// Names returns all capability names in stable sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	return len(r.caps)
}

// Manifest renders a human-readable description of the named capabilities,
// used both as prompt hints for the primary interpreter stage and for
// advertising available actions back to the requester.
func (r *Registry) Manifest(names []string) string {
	var b strings.Builder
	for _, name := range names {
		cap, ok := r.caps[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s", cap.Name(), cap.Description())
		params := cap.Params()
		if len(params) > 0 {
			var parts []string
			for _, p := range params {
				if p.Required {
					parts = append(parts, p.Name+" (required)")
				} else {
					parts = append(parts, p.Name)
				}
			}
			fmt.Fprintf(&b, " [params: %s]", strings.Join(parts, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}
