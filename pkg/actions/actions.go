// Package actions ships the engine's built-in capabilities for a team chat
// assistant: scheduling matches, messaging the squad, listing fixtures and
// self-describing help.
package actions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gafferhq/gaffer/pkg/capability"
	"github.com/gafferhq/gaffer/pkg/errors"
	"github.com/gafferhq/gaffer/pkg/ident"
	"github.com/gafferhq/gaffer/pkg/intent"
	"github.com/gafferhq/gaffer/pkg/interpret"
	"github.com/gafferhq/gaffer/pkg/role"
)

// Notifier delivers a message to the team channel.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Service owns the dependencies the built-in capabilities share. Bind must
// be called after registry discovery so help can render entitled manifests.
type Service struct {
	generator *ident.Generator
	notifier  Notifier

	registry *capability.Registry
	resolver *role.Resolver
}

// NewService builds the capability service.
func NewService(generator *ident.Generator, notifier Notifier) *Service {
	return &Service{generator: generator, notifier: notifier}
}

// Bind attaches the discovered registry and resolved roles. Help renders
// the full manifest until it is called.
func (s *Service) Bind(registry *capability.Registry, resolver *role.Resolver) {
	s.registry = registry
	s.resolver = resolver
}

// Capabilities returns the built-in capability set for registration.
func (s *Service) Capabilities() []capability.Capability {
	return []capability.Capability{
		capability.MustNew(capability.Spec{
			Name:        string(intent.KindCreateMatch),
			Description: "schedule a match against an opponent on a date",
			SideEffect:  capability.SideEffectWrite,
			Params: []capability.Param{
				{Name: intent.ParamOpponent, Required: true, Description: "opposing team name"},
				{Name: intent.ParamDate, Required: true, Description: "match date, YYYY-MM-DD"},
				{Name: intent.ParamTime, Description: "kick-off time, HH:MM"},
				{Name: intent.ParamVenue, Description: "home, away or a ground name"},
				{Name: intent.ParamCompetition, Description: "competition the match belongs to"},
				{Name: intent.ParamNotes, Description: "free-form notes"},
			},
			Handler: s.createMatch,
		}),
		capability.MustNew(capability.Spec{
			Name:        string(intent.KindSendMessage),
			Description: "send a message to the team channel",
			SideEffect:  capability.SideEffectNotify,
			Params: []capability.Param{
				{Name: intent.ParamMessage, Required: true, Description: "message text"},
			},
			Handler: s.sendMessage,
		}),
		capability.MustNew(capability.Spec{
			Name:        string(intent.KindListMatches),
			Description: "list the scheduled matches",
			SideEffect:  capability.SideEffectRead,
			Handler:     s.listMatches,
		}),
		capability.MustNew(capability.Spec{
			Name:        string(intent.KindHelp),
			Description: "show what you can ask for",
			SideEffect:  capability.SideEffectRead,
			Handler:     s.help,
		}),
	}
}

// DefaultRoles is the shipped role-to-capability map.
func DefaultRoles() map[string][]string {
	return map[string][]string{
		"manager": {
			string(intent.KindCreateMatch),
			string(intent.KindSendMessage),
			string(intent.KindListMatches),
			string(intent.KindHelp),
		},
		"coach": {
			string(intent.KindCreateMatch),
			string(intent.KindSendMessage),
			string(intent.KindListMatches),
			string(intent.KindHelp),
		},
		"player": {
			string(intent.KindSendMessage),
			string(intent.KindListMatches),
			string(intent.KindHelp),
		},
	}
}

// MatchResult is the outcome of create_match.
type MatchResult struct {
	Identifier  string `json:"identifier"`
	Opponent    string `json:"opponent"`
	Date        string `json:"date"`
	Time        string `json:"time,omitempty"`
	Venue       string `json:"venue,omitempty"`
	Competition string `json:"competition,omitempty"`
	Notes       string `json:"notes,omitempty"`

	release func()
}

// Discard frees the reserved identifier. The dispatch timeout boundary calls
// it when the match was minted after the requester was already told the
// operation timed out.
func (r *MatchResult) Discard() {
	if r.release != nil {
		r.release()
	}
}

// Summary renders the requester-facing confirmation line.
func (r *MatchResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Match against %s on %s", r.Opponent, r.Date)
	if r.Time != "" {
		fmt.Fprintf(&b, " at %s", r.Time)
	}
	if r.Venue != "" {
		fmt.Fprintf(&b, " (%s)", r.Venue)
	}
	if r.Competition != "" {
		fmt.Fprintf(&b, " in the %s", r.Competition)
	}
	fmt.Fprintf(&b, " scheduled, reference %s.", r.Identifier)
	return b.String()
}

func (s *Service) createMatch(ctx context.Context, params map[string]string) (any, error) {
	date, err := time.Parse(interpret.DateFormat, params[intent.ParamDate])
	if err != nil {
		return nil, errors.New(errors.CodeValidation,
			fmt.Sprintf("date %q must be in YYYY-MM-DD form", params[intent.ParamDate]), err).
			WithRecoverable(true)
	}

	id, err := s.generator.Generate(ctx, ident.KindMatch, ident.Components{
		Opponent: params[intent.ParamOpponent],
		Date:     date,
	})
	if err != nil {
		return nil, err
	}

	return &MatchResult{
		Identifier:  id.Final,
		Opponent:    params[intent.ParamOpponent],
		Date:        date.Format(interpret.DateFormat),
		Time:        params[intent.ParamTime],
		Venue:       params[intent.ParamVenue],
		Competition: params[intent.ParamCompetition],
		Notes:       params[intent.ParamNotes],
		release: func() {
			_ = s.generator.Release(context.WithoutCancel(ctx), id.Final)
		},
	}, nil
}

// MessageResult is the outcome of send_message.
type MessageResult struct {
	Message string `json:"message"`
}

func (r *MessageResult) Summary() string {
	return fmt.Sprintf("Message sent to the team: %q", r.Message)
}

func (s *Service) sendMessage(ctx context.Context, params map[string]string) (any, error) {
	message := strings.TrimSpace(params[intent.ParamMessage])
	if err := s.notifier.Notify(ctx, message); err != nil {
		return nil, err
	}
	return &MessageResult{Message: message}, nil
}

// ListResult is the outcome of list_matches.
type ListResult struct {
	Identifiers []string `json:"identifiers"`
}

func (r *ListResult) Summary() string {
	if len(r.Identifiers) == 0 {
		return "No matches scheduled yet."
	}
	return "Scheduled matches: " + strings.Join(r.Identifiers, ", ")
}

func (s *Service) listMatches(ctx context.Context, params map[string]string) (any, error) {
	ids, err := s.generator.List(ctx)
	if err != nil {
		return nil, err
	}
	return &ListResult{Identifiers: ids}, nil
}

// HelpResult is the outcome of help.
type HelpResult struct {
	Manifest string `json:"manifest"`
}

func (r *HelpResult) Summary() string {
	return "Here is what you can ask for:\n" + r.Manifest
}

func (s *Service) help(ctx context.Context, params map[string]string) (any, error) {
	if s.registry == nil {
		return nil, errors.New(errors.CodeConfiguration, "help invoked before registry binding", nil)
	}

	names := s.registry.Names()
	if s.resolver != nil {
		if entitled, err := s.resolver.CapabilitiesFor(capability.RoleFrom(ctx)); err == nil {
			names = entitled
		}
	}
	return &HelpResult{Manifest: s.registry.Manifest(names)}, nil
}
