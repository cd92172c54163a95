// Package capability defines the engine's invokable actions and the
// process-scoped registry that holds them. Capabilities register once at
// startup and are immutable afterwards.
package capability

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/gafferhq/gaffer/pkg/errors"
)

// SideEffect classifies what a capability does to the outside world.
type SideEffect string

const (
	SideEffectRead   SideEffect = "read"
	SideEffectWrite  SideEffect = "write"
	SideEffectNotify SideEffect = "notify"
)

// Param describes one parameter a capability accepts.
type Param struct {
	Name        string
	Required    bool
	Description string
}

// Capability is a named, invokable action with a declared parameter schema
// and a role-entitlement tag set.
type Capability interface {
	Name() string
	Description() string
	Params() []Param
	SideEffect() SideEffect
	Roles() []string
	Invoke(ctx context.Context, params map[string]string) (any, error)
}

const maxNameLen = 64

var namePattern = regexp.MustCompile(`^[a-z0-9]+(?:_[a-z0-9]+)*$`)

// ValidateName checks a capability name against the naming rule.
func ValidateName(name string) error {
	if name == "" {
		return errors.New(errors.CodeInvalidInput, "capability name is required", nil)
	}
	if len(name) > maxNameLen {
		return errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("capability name exceeds %d characters", maxNameLen), nil).
			WithContext("name", name)
	}
	if !namePattern.MatchString(name) {
		return errors.New(errors.CodeInvalidInput,
			"capability name must be lowercase words joined by underscores", nil).
			WithContext("name", name)
	}
	return nil
}

// CheckParams validates intent parameters against the capability's schema,
// collecting every missing required parameter so the requester can fix all
// of them in one go.
func CheckParams(cap Capability, params map[string]string) error {
	var missing []string
	for _, p := range cap.Params() {
		if !p.Required {
			continue
		}
		if strings.TrimSpace(params[p.Name]) == "" {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return errors.New(errors.CodeValidation,
			fmt.Sprintf("missing required parameters: %s", strings.Join(missing, ", ")), nil).
			WithContext("capability", cap.Name()).
			WithContext("missing", missing).
			WithRecoverable(true)
	}
	return nil
}
