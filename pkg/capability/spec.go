package capability

import (
	"context"

	"github.com/gafferhq/gaffer/pkg/errors"
)

// Handler executes a capability's behavior.
type Handler func(ctx context.Context, params map[string]string) (any, error)

// Spec declares a capability for registration.
type Spec struct {
	Name        string
	Description string
	Params      []Param
	SideEffect  SideEffect
	Roles       []string
	Handler     Handler
}

// New builds a Capability from a Spec. The handler is required.
func New(spec Spec) (Capability, error) {
	if err := ValidateName(spec.Name); err != nil {
		return nil, err
	}
	if spec.Handler == nil {
		return nil, errors.New(errors.CodeConfiguration, "capability handler is required", nil).
			WithContext("capability", spec.Name)
	}
	if spec.SideEffect == "" {
		spec.SideEffect = SideEffectRead
	}
	return &specCapability{spec: spec}, nil
}

// MustNew is New for static capability tables; it panics on a bad spec.
func MustNew(spec Spec) Capability {
	cap, err := New(spec)
	if err != nil {
		panic(err)
	}
	return cap
}

type specCapability struct {
	spec Spec
}

func (c *specCapability) Name() string           { return c.spec.Name }
func (c *specCapability) Description() string    { return c.spec.Description }
func (c *specCapability) SideEffect() SideEffect { return c.spec.SideEffect }

func (c *specCapability) Params() []Param {
	return append([]Param(nil), c.spec.Params...)
}

func (c *specCapability) Roles() []string {
	return append([]string(nil), c.spec.Roles...)
}

func (c *specCapability) Invoke(ctx context.Context, params map[string]string) (any, error) {
	if err := CheckParams(c, params); err != nil {
		return nil, err
	}
	return c.spec.Handler(ctx, params)
}
