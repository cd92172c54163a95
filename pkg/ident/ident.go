// Package ident mints stable human-readable identifiers for created
// entities. All mutation of the identifier namespace and the name to
// abbreviation mapping goes through this package's atomic store operations;
// no other component touches them directly.
package ident

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gafferhq/gaffer/pkg/errors"
	"github.com/gafferhq/gaffer/pkg/telemetry"
)

// Namespace is the uniqueness index of issued identifiers. Reserve is a
// single atomic check-and-reserve: no two concurrent calls may both succeed
// for the same identifier.
type Namespace interface {
	// Reserve atomically reserves id. Returns false when id is taken.
	Reserve(ctx context.Context, id string) (bool, error)
	// Release frees a reservation, rolling back a cancelled operation.
	Release(ctx context.Context, id string) error
	// List returns all reserved identifiers in stable sorted order.
	List(ctx context.Context) ([]string, error)
}

// AbbrevStore persists committed name to code mappings. A mapping, once
// committed, never changes.
type AbbrevStore interface {
	// Lookup returns the committed code for name, if any.
	Lookup(ctx context.Context, name string) (string, bool, error)
	// Commit atomically commits name -> code. When a concurrent commit for
	// the same name won, the winning code is returned instead. When code is
	// already bound to a different name, errCodeTaken is returned.
	Commit(ctx context.Context, name, code string) (string, error)
}

// errCodeTaken signals that a candidate code belongs to another name.
var errCodeTaken = errors.New(errors.CodeInvalidInput, "abbreviation code already bound", nil)

// randomAlphabet excludes easily confused characters.
const randomAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const randomSuffixLen = 4

// EntityKind names an identifier namespace partition.
type EntityKind string

const KindMatch EntityKind = "match"

// Components are the inputs to match identifier derivation.
type Components struct {
	Opponent string
	Date     time.Time
}

// GeneratedIdentifier is a minted identifier with its derivation parts.
type GeneratedIdentifier struct {
	TeamCode      string
	OpponentCode  string
	DateCode      string
	Canonical     string // base string before disambiguation
	Disambiguator string // empty when the base was free
	Final         string
}

// Config controls identifier derivation.
type Config struct {
	TeamName        string
	TeamCode        string // preferred code for the configured team
	CodeWidth       int
	Separator       string
	NumericAttempts int
	RandomAttempts  int
}

// Generator derives and reserves identifiers.
type Generator struct {
	cfg     Config
	ns      Namespace
	abbrevs AbbrevStore
	metrics *telemetry.EngineMetrics
	tracer  trace.Tracer
}

// New creates a Generator. Defaults: width 3, separator "v", 99 numeric and
// 8 random attempts.
func New(cfg Config, ns Namespace, abbrevs AbbrevStore, metrics *telemetry.EngineMetrics) (*Generator, error) {
	if strings.TrimSpace(cfg.TeamName) == "" {
		return nil, errors.New(errors.CodeConfiguration, "identifier team name is required", nil)
	}
	if cfg.CodeWidth == 0 {
		cfg.CodeWidth = 3
	}
	if cfg.Separator == "" {
		cfg.Separator = "v"
	}
	if cfg.NumericAttempts == 0 {
		cfg.NumericAttempts = 99
	}
	if cfg.RandomAttempts == 0 {
		cfg.RandomAttempts = 8
	}
	return &Generator{
		cfg:     cfg,
		ns:      ns,
		abbrevs: abbrevs,
		metrics: metrics,
		tracer:  otel.Tracer("gaffer/ident"),
	}, nil
}

// Generate derives the canonical identifier for the entity and reserves a
// collision-free final string in the namespace. The reservation is rolled
// back when ctx is cancelled before Generate returns.
func (g *Generator) Generate(ctx context.Context, kind EntityKind, c Components) (*GeneratedIdentifier, error) {
	if kind != KindMatch {
		return nil, errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("unsupported entity kind %q", kind), nil)
	}
	if strings.TrimSpace(c.Opponent) == "" {
		return nil, errors.New(errors.CodeValidation, "opponent name is required", nil).
			WithRecoverable(true)
	}
	if c.Date.IsZero() {
		return nil, errors.New(errors.CodeValidation, "match date is required", nil).
			WithRecoverable(true)
	}

	ctx, span := g.tracer.Start(ctx, "Generator.Generate", trace.WithAttributes(
		attribute.String("entity.kind", string(kind)),
	))
	defer span.End()

	teamCode, err := g.codeFor(ctx, g.cfg.TeamName, g.cfg.TeamCode)
	if err != nil {
		return nil, err
	}
	oppCode, err := g.codeFor(ctx, c.Opponent, "")
	if err != nil {
		return nil, err
	}

	dateCode := fmt.Sprintf("%02d%02d", c.Date.Day(), int(c.Date.Month()))
	base := teamCode + g.cfg.Separator + oppCode + dateCode

	final, disambiguator, err := g.reserveFree(ctx, base)
	if err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		// The surrounding operation was cancelled after the reservation
		// succeeded; free it rather than stranding an unused identifier.
		// Cancellation landing after this check is covered by the caller
		// discarding the late result and calling Release.
		_ = g.ns.Release(context.WithoutCancel(ctx), final)
		return nil, errors.New(errors.CodeTimeout, "identifier generation cancelled", ctx.Err()).
			WithRecoverable(true)
	}

	span.SetAttributes(attribute.String("identifier", final))
	return &GeneratedIdentifier{
		TeamCode:      teamCode,
		OpponentCode:  oppCode,
		DateCode:      dateCode,
		Canonical:     base,
		Disambiguator: disambiguator,
		Final:         final,
	}, nil
}

// Release frees a reserved identifier. Callers use it to roll back when the
// operation that requested the identifier fails after reservation.
func (g *Generator) Release(ctx context.Context, id string) error {
	return g.ns.Release(ctx, id)
}

// List returns all issued identifiers.
func (g *Generator) List(ctx context.Context) ([]string, error) {
	return g.ns.List(ctx)
}

// reserveFree finds and reserves a collision-free identifier: the bare base
// first, then ordinal suffixes counting duplicates from 2, then bounded
// random suffixes.
func (g *Generator) reserveFree(ctx context.Context, base string) (string, string, error) {
	ok, err := g.ns.Reserve(ctx, base)
	if err != nil {
		return "", "", err
	}
	if ok {
		return base, "", nil
	}

	for n := 2; n < 2+g.cfg.NumericAttempts; n++ {
		g.metrics.RecordCollision(ctx, "numeric")
		suffix := fmt.Sprintf("%d", n)
		candidate := base + "-" + suffix
		ok, err := g.ns.Reserve(ctx, candidate)
		if err != nil {
			return "", "", err
		}
		if ok {
			return candidate, suffix, nil
		}
	}

	for i := 0; i < g.cfg.RandomAttempts; i++ {
		g.metrics.RecordCollision(ctx, "random")
		suffix := randomSuffix()
		candidate := base + "-" + suffix
		ok, err := g.ns.Reserve(ctx, candidate)
		if err != nil {
			return "", "", err
		}
		if ok {
			return candidate, suffix, nil
		}
	}

	return "", "", errors.New(errors.CodeIdentifierExhausted,
		fmt.Sprintf("no free identifier for %s after %d numeric and %d random attempts",
			base, g.cfg.NumericAttempts, g.cfg.RandomAttempts), nil).
		WithRecoverable(true)
}

// codeFor returns the committed abbreviation for name, minting one when the
// name has never been seen. Concurrent first-time requests converge on
// exactly one committed code.
func (g *Generator) codeFor(ctx context.Context, name, preferred string) (string, error) {
	if code, found, err := g.abbrevs.Lookup(ctx, name); err != nil {
		return "", err
	} else if found {
		return code, nil
	}

	for _, candidate := range codeCandidates(name, preferred, g.cfg.CodeWidth) {
		committed, err := g.abbrevs.Commit(ctx, name, candidate)
		if err == errCodeTaken {
			continue
		}
		if err != nil {
			return "", err
		}
		return committed, nil
	}

	return "", errors.New(errors.CodeIdentifierExhausted,
		fmt.Sprintf("no free abbreviation code for %q", name), nil).
		WithRecoverable(true)
}

// Abbreviate derives the stable short code for a full name: the leading
// letter, then following consonants, vowels only when consonants run out,
// padded with X to width. Club suffix tokens do not contribute.
func Abbreviate(name string, width int) string {
	letters := cleanLetters(name)
	if len(letters) == 0 {
		return strings.Repeat("X", width)
	}

	code := []rune{letters[0]}
	for _, r := range letters[1:] {
		if len(code) == width {
			break
		}
		if !isVowel(r) {
			code = append(code, r)
		}
	}
	for _, r := range letters[1:] {
		if len(code) == width {
			break
		}
		if isVowel(r) {
			code = append(code, r)
		}
	}
	for len(code) < width {
		code = append(code, 'X')
	}
	return string(code)
}

// codeCandidates lists commit candidates in preference order: the preferred
// code, the derived code, then deterministic digit-suffixed variants.
func codeCandidates(name, preferred string, width int) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(code string) {
		if code != "" && !seen[code] {
			seen[code] = true
			out = append(out, code)
		}
	}

	add(strings.ToUpper(strings.TrimSpace(preferred)))
	derived := Abbreviate(name, width)
	add(derived)
	if width > 1 {
		for d := '2'; d <= '9'; d++ {
			add(derived[:width-1] + string(d))
		}
	}
	return out
}

// suffixTokens are club name qualifiers that carry no identity.
var suffixTokens = map[string]bool{
	"FC": true, "AFC": true, "CF": true, "SC": true, "UTD": true, "UNITED": true,
}

func cleanLetters(name string) []rune {
	var letters []rune
	for _, word := range strings.Fields(strings.ToUpper(name)) {
		if suffixTokens[word] {
			continue
		}
		for _, r := range word {
			if unicode.IsLetter(r) && r < 128 {
				letters = append(letters, r)
			}
		}
	}
	return letters
}

func isVowel(r rune) bool {
	switch r {
	case 'A', 'E', 'I', 'O', 'U':
		return true
	}
	return false
}

func randomSuffix() string {
	b := make([]byte, randomSuffixLen)
	for i := range b {
		b[i] = randomAlphabet[rand.IntN(len(randomAlphabet))]
	}
	return string(b)
}
