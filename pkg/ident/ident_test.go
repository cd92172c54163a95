package ident

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gafferhq/gaffer/pkg/errors"
)

func testGenerator(t *testing.T, store *MemoryStore) *Generator {
	t.Helper()
	g, err := New(Config{
		TeamName: "Botanic Park Harriers",
		TeamCode: "BPH",
	}, store, store, nil)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	return g
}

func july1() time.Time {
	return time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC)
}

func TestAbbreviate(t *testing.T) {
	cases := []struct {
		name  string
		width int
		want  string
	}{
		{"Red Lion FC", 3, "RDL"},
		{"Red Lion", 3, "RDL"},
		{"Rovers", 3, "RVR"},
		{"AFC Oak", 3, "OKA"},
		{"Ab", 3, "ABX"},
		{"", 3, "XXX"},
		{"Eagles", 4, "EGLS"},
	}
	for _, tc := range cases {
		if got := Abbreviate(tc.name, tc.width); got != tc.want {
			t.Fatalf("Abbreviate(%q, %d) = %q, want %q", tc.name, tc.width, got, tc.want)
		}
	}
}

func TestAbbreviateIdempotent(t *testing.T) {
	for i := 0; i < 5; i++ {
		if got := Abbreviate("Red Lion FC", 3); got != "RDL" {
			t.Fatalf("derivation not stable: got %q on call %d", got, i)
		}
	}
}

func TestGenerateCanonicalString(t *testing.T) {
	store := NewMemoryStore()
	g := testGenerator(t, store)

	id, err := g.Generate(context.Background(), KindMatch, Components{
		Opponent: "Red Lion FC",
		Date:     july1(),
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if id.Final != "BPHvRDL0107" {
		t.Fatalf("final = %q, want BPHvRDL0107", id.Final)
	}
	if id.Canonical != "BPHvRDL0107" || id.Disambiguator != "" {
		t.Fatalf("expected undisambiguated canonical, got %+v", id)
	}
	if id.TeamCode != "BPH" || id.OpponentCode != "RDL" || id.DateCode != "0107" {
		t.Fatalf("unexpected components: %+v", id)
	}
}

func TestGenerateDuplicateDisambiguated(t *testing.T) {
	store := NewMemoryStore()
	g := testGenerator(t, store)
	components := Components{Opponent: "Red Lion FC", Date: july1()}

	first, err := g.Generate(context.Background(), KindMatch, components)
	if err != nil {
		t.Fatalf("first generate: %v", err)
	}
	second, err := g.Generate(context.Background(), KindMatch, components)
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if first.Final == second.Final {
		t.Fatalf("duplicate request must not reuse %q", first.Final)
	}
	if second.Final != "BPHvRDL0107-2" {
		t.Fatalf("second identifier = %q, want BPHvRDL0107-2", second.Final)
	}
	third, err := g.Generate(context.Background(), KindMatch, components)
	if err != nil {
		t.Fatalf("third generate: %v", err)
	}
	if third.Final != "BPHvRDL0107-3" {
		t.Fatalf("third identifier = %q, want BPHvRDL0107-3", third.Final)
	}
}

func TestGenerateConcurrentDistinctTuples(t *testing.T) {
	store := NewMemoryStore()
	g := testGenerator(t, store)

	const n = 40
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := g.Generate(context.Background(), KindMatch, Components{
				Opponent: fmt.Sprintf("Opponent Number %d Town", i),
				Date:     july1().AddDate(0, 0, i%28),
			})
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = id.Final
		}(i)
	}
	wg.Wait()

	seen := make(map[string]int)
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("generate %d: %v", i, errs[i])
		}
		seen[results[i]]++
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct identifiers, got %d", n, len(seen))
	}
}

func TestGenerateConcurrentSameTupleAllDistinct(t *testing.T) {
	store := NewMemoryStore()
	g := testGenerator(t, store)

	const n = 20
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := g.Generate(context.Background(), KindMatch, Components{
				Opponent: "Red Lion FC",
				Date:     july1(),
			})
			if err != nil {
				t.Errorf("generate: %v", err)
				return
			}
			results[i] = id.Final
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, r := range results {
		if r == "" {
			continue
		}
		if seen[r] {
			t.Fatalf("identifier %q handed out twice", r)
		}
		seen[r] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct identifiers, got %d", n, len(seen))
	}
}

func TestAbbreviationConcurrentFirstUseCommitsOnce(t *testing.T) {
	store := NewMemoryStore()
	g := testGenerator(t, store)

	const n = 16
	var wg sync.WaitGroup
	codes := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code, err := g.codeFor(context.Background(), "Brand New Wanderers", "")
			if err != nil {
				t.Errorf("codeFor: %v", err)
				return
			}
			codes[i] = code
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if codes[i] != codes[0] {
			t.Fatalf("callers observed different codes: %q vs %q", codes[0], codes[i])
		}
	}
	committed, found, err := store.Lookup(context.Background(), "Brand New Wanderers")
	if err != nil || !found {
		t.Fatalf("expected committed mapping, found=%v err=%v", found, err)
	}
	if committed != codes[0] {
		t.Fatalf("committed %q differs from observed %q", committed, codes[0])
	}
}

func TestAbbreviationCodeCollisionSteps(t *testing.T) {
	store := NewMemoryStore()
	g := testGenerator(t, store)
	ctx := context.Background()

	// Both names derive RVR; the second must step to a deterministic
	// alternate rather than reuse it.
	first, err := g.codeFor(ctx, "Rovers", "")
	if err != nil {
		t.Fatalf("first codeFor: %v", err)
	}
	second, err := g.codeFor(ctx, "Reivers", "")
	if err != nil {
		t.Fatalf("second codeFor: %v", err)
	}
	if first != "RVR" {
		t.Fatalf("first code = %q, want RVR", first)
	}
	if second == first {
		t.Fatal("second name must not share the first name's code")
	}
	if second != "RV2" {
		t.Fatalf("second code = %q, want RV2", second)
	}

	// Committed mappings never change.
	again, err := g.codeFor(ctx, "Reivers", "")
	if err != nil {
		t.Fatalf("repeat codeFor: %v", err)
	}
	if again != second {
		t.Fatalf("committed code changed: %q -> %q", second, again)
	}
}

func TestGenerateExhaustion(t *testing.T) {
	store := NewMemoryStore()
	g, err := New(Config{
		TeamName:        "Botanic Park Harriers",
		TeamCode:        "BPH",
		NumericAttempts: 2,
		RandomAttempts:  2,
	}, store, store, nil)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}

	// Block the base, the numeric candidates, and every random candidate.
	exhausted := &exhaustedNamespace{}
	g.ns = exhausted

	_, genErr := g.Generate(context.Background(), KindMatch, Components{
		Opponent: "Red Lion FC",
		Date:     july1(),
	})
	if !errors.IsCode(genErr, errors.CodeIdentifierExhausted) {
		t.Fatalf("expected IDENTIFIER_SPACE_EXHAUSTED, got %v", genErr)
	}
	// base + 2 numeric + 2 random
	if exhausted.attempts != 5 {
		t.Fatalf("expected 5 bounded attempts, got %d", exhausted.attempts)
	}
}

type exhaustedNamespace struct {
	attempts int
}

func (e *exhaustedNamespace) Reserve(context.Context, string) (bool, error) {
	e.attempts++
	return false, nil
}
func (e *exhaustedNamespace) Release(context.Context, string) error { return nil }
func (e *exhaustedNamespace) List(context.Context) ([]string, error) {
	return nil, nil
}

func TestGenerateReleasesOnCancelledContext(t *testing.T) {
	store := NewMemoryStore()
	g := testGenerator(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Generate(ctx, KindMatch, Components{
		Opponent: "Red Lion FC",
		Date:     july1(),
	})
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}

	// The reservation must have been rolled back: a fresh generate gets
	// the undisambiguated base string.
	id, err := g.Generate(context.Background(), KindMatch, Components{
		Opponent: "Red Lion FC",
		Date:     july1(),
	})
	if err != nil {
		t.Fatalf("generate after rollback: %v", err)
	}
	if id.Final != "BPHvRDL0107" {
		t.Fatalf("expected base identifier after rollback, got %q", id.Final)
	}
}

func TestGenerateValidation(t *testing.T) {
	store := NewMemoryStore()
	g := testGenerator(t, store)

	_, err := g.Generate(context.Background(), KindMatch, Components{Date: july1()})
	if !errors.IsCode(err, errors.CodeValidation) {
		t.Fatalf("expected VALIDATION_FAILURE for missing opponent, got %v", err)
	}
	_, err = g.Generate(context.Background(), KindMatch, Components{Opponent: "Rovers"})
	if !errors.IsCode(err, errors.CodeValidation) {
		t.Fatalf("expected VALIDATION_FAILURE for missing date, got %v", err)
	}
	_, err = g.Generate(context.Background(), "season", Components{Opponent: "Rovers", Date: july1()})
	if !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT for unsupported kind, got %v", err)
	}
}
