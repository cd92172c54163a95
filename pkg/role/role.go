// Package role maps requester roles to their entitled capability sets.
// Profiles resolve once at startup against the capability registry; any
// dangling declaration aborts the process before it serves a request.
package role

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gafferhq/gaffer/pkg/capability"
	"github.com/gafferhq/gaffer/pkg/errors"
)

// Declaration is the configured capability list for one role.
type Declaration struct {
	Role         string
	Capabilities []string
}

// Profile is a resolved, cached role entitlement set. Immutable after
// resolution.
type Profile struct {
	role  string
	names []string
	set   map[string]bool
}

// Role returns the role identifier.
func (p *Profile) Role() string { return p.role }

// Capabilities returns the entitled capability names in stable sorted order.
func (p *Profile) Capabilities() []string {
	return append([]string(nil), p.names...)
}

// Entitled reports whether the profile includes the named capability.
func (p *Profile) Entitled(name string) bool {
	return p.set[name]
}

// Resolver holds the resolved profiles for every configured role.
type Resolver struct {
	profiles map[string]*Profile
}

// Resolve validates every declaration against the registry and builds the
// profile cache. A declaration naming a capability the registry does not
// hold fails resolution; all missing names across all roles are collected
// into a single error so one fix-cycle can address every gap.
func Resolve(decls []Declaration, registry *capability.Registry) (*Resolver, error) {
	var missing []string
	profiles := make(map[string]*Profile, len(decls))

	for _, decl := range decls {
		if _, dup := profiles[decl.Role]; dup {
			return nil, errors.New(errors.CodeConfiguration,
				fmt.Sprintf("role %q declared more than once", decl.Role), nil)
		}
		set := make(map[string]bool, len(decl.Capabilities))
		for _, name := range decl.Capabilities {
			if !registry.Has(name) {
				missing = append(missing, decl.Role+":"+name)
				continue
			}
			set[name] = true
		}
		names := make([]string, 0, len(set))
		for name := range set {
			names = append(names, name)
		}
		sort.Strings(names)
		profiles[decl.Role] = &Profile{role: decl.Role, names: names, set: set}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, errors.New(errors.CodeResolution,
			fmt.Sprintf("unresolved capability declarations: %s", strings.Join(missing, ", ")), nil).
			WithContext("missing", missing)
	}

	return &Resolver{profiles: profiles}, nil
}

// DeclarationsFromConfig converts the configured role map into declarations
// in stable role order.
func DeclarationsFromConfig(roles map[string][]string) []Declaration {
	names := make([]string, 0, len(roles))
	for role := range roles {
		names = append(names, role)
	}
	sort.Strings(names)
	decls := make([]Declaration, 0, len(names))
	for _, role := range names {
		decls = append(decls, Declaration{Role: role, Capabilities: roles[role]})
	}
	return decls
}

// Profile returns the resolved profile for a role.
func (r *Resolver) Profile(role string) (*Profile, error) {
	p, ok := r.profiles[role]
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			fmt.Sprintf("role %q is not configured", role), nil)
	}
	return p, nil
}

// CapabilitiesFor returns the deterministically ordered capability names a
// role may invoke.
func (r *Resolver) CapabilitiesFor(role string) ([]string, error) {
	p, err := r.Profile(role)
	if err != nil {
		return nil, err
	}
	return p.Capabilities(), nil
}

// Roles returns every configured role in stable sorted order.
func (r *Resolver) Roles() []string {
	names := make([]string, 0, len(r.profiles))
	for role := range r.profiles {
		names = append(names, role)
	}
	sort.Strings(names)
	return names
}
