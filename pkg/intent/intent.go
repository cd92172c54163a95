// Package intent defines the structured result of interpreting raw chat
// text. Intents are request-scoped: created per command and discarded after
// dispatch.
package intent

import (
	"fmt"

	"github.com/gafferhq/gaffer/pkg/errors"
)

// Kind identifies the action the requester wants. Kind strings double as
// capability names so dispatch needs no extra mapping table.
type Kind string

const (
	// KindUnknown means no recognisable command was found.
	KindUnknown Kind = "unknown"

	KindCreateMatch Kind = "create_match"
	KindSendMessage Kind = "send_message"
	KindListMatches Kind = "list_matches"
	KindHelp        Kind = "help"
)

// Provenance marks which interpreter stage produced an intent.
type Provenance string

const (
	// ProvenancePrimary marks intents from the AI-assisted stage.
	ProvenancePrimary Provenance = "primary"
	// ProvenanceFallback marks intents from the deterministic stage.
	ProvenanceFallback Provenance = "fallback"
)

// Parameter names shared by the interpreter stages and capabilities.
const (
	ParamOpponent    = "opponent"
	ParamDate        = "date"
	ParamTime        = "time"
	ParamVenue       = "venue"
	ParamCompetition = "competition"
	ParamNotes       = "notes"
	ParamMessage     = "message"
)

// Intent is the structured interpretation of one chat command.
type Intent struct {
	Kind       Kind
	Params     map[string]string
	Confidence float64
	Provenance Provenance
	Raw        string
}

// New builds an Intent, validating the confidence bound.
func New(kind Kind, params map[string]string, confidence float64, provenance Provenance) (*Intent, error) {
	if confidence < 0 || confidence > 1 {
		return nil, errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("confidence %v outside [0,1]", confidence), nil)
	}
	if params == nil {
		params = make(map[string]string)
	}
	return &Intent{
		Kind:       kind,
		Params:     params,
		Confidence: confidence,
		Provenance: provenance,
	}, nil
}

// Unknown returns the terminal unknown intent for the given stage.
func Unknown(provenance Provenance) *Intent {
	return &Intent{
		Kind:       KindUnknown,
		Params:     make(map[string]string),
		Confidence: 0,
		Provenance: provenance,
	}
}

// IsUnknown reports whether the intent carries no recognisable command.
func (i *Intent) IsUnknown() bool {
	return i == nil || i.Kind == KindUnknown
}

// Param returns a parameter value, empty when absent.
func (i *Intent) Param(name string) string {
	if i == nil {
		return ""
	}
	return i.Params[name]
}

// KnownKinds returns every non-unknown kind the engine ships.
func KnownKinds() []Kind {
	return []Kind{KindCreateMatch, KindSendMessage, KindListMatches, KindHelp}
}

// ParseKind maps a kind string to a known Kind, or KindUnknown.
func ParseKind(s string) Kind {
	for _, k := range KnownKinds() {
		if string(k) == s {
			return k
		}
	}
	return KindUnknown
}
