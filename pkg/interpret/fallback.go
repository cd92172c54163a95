package interpret

// The fallback stage mirrors the deterministic keyword and pattern matching
// style of chat bots that refuse to let an LLM make control decisions: a
// fixed command grammar, verb/noun keyword sets, and positional extraction
// of arguments. It runs when the primary stage fails, times out, or reports
// low confidence.

import (
	"context"
	"regexp"
	"strings"

	"github.com/gafferhq/gaffer/pkg/intent"
)

// fallbackConfidence is the fixed score for grammar-matched intents. Lower
// than a good primary parse, but deterministic.
const fallbackConfidence = 0.6

var (
	createVerbs  = []string{"create", "schedule", "add", "arrange", "organise", "organize", "set up", "new"}
	matchNouns   = []string{"match", "game", "fixture", "friendly"}
	messageVerbs = []string{"tell", "message", "announce", "send", "remind"}
	listVerbs    = []string{"list", "show", "upcoming", "what matches", "which matches"}

	helpRe = regexp.MustCompile(`(?i)^\s*(?:help|\?|what can (?:you|i) do)\s*\??\s*$`)

	opponentMarkerRe = regexp.MustCompile(`(?i)\b(?:against|versus|vs\.?)\s+`)

	venueHomeRe = regexp.MustCompile(`(?i)\bat home\b`)
	venueAwayRe = regexp.MustCompile(`(?i)\baway\b`)
	venueAtRe   = regexp.MustCompile(`(?i)\bat\s+(?:the\s+)?([a-z][a-z' ]{2,40})`)

	competitionRe = regexp.MustCompile(`(?i)\b(?:in|for)\s+the\s+([a-z][a-z0-9' ]+?)(?:\s+(?:on|at|against|versus|vs)\b|,|$)`)

	notesRe = regexp.MustCompile(`(?i)\bnotes?:\s*(.+)$`)

	messageLeadRe = regexp.MustCompile(`(?i)^\s*(?:please\s+)?(?:tell|remind)\s+(?:everyone|everybody|the team|the squad|all)\s*(?:that\s+)?`)
	announceRe    = regexp.MustCompile(`(?i)^\s*(?:please\s+)?announce\s+(?:that\s+)?`)
	sendMsgRe     = regexp.MustCompile(`(?i)^\s*(?:please\s+)?(?:send|message)\s+(?:a\s+message\s+)?(?:to\s+)?(?:everyone|everybody|the team|the squad)?\s*(?:saying\s+|that\s+)?`)

	// delimiters ending a free-text opponent name
	opponentStops = []string{" on ", " at ", " in ", " for ", " next ", " this ", " tomorrow", " today", ","}
)

// Fallback is the deterministic interpretation stage.
type Fallback struct{}

// NewFallback creates the deterministic fallback stage.
func NewFallback() *Fallback {
	return &Fallback{}
}

// Interpret matches the raw text against the fixed command grammar. It never
// fails: text outside the grammar yields an Unknown intent.
func (f *Fallback) Interpret(_ context.Context, req Request) (*intent.Intent, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return intent.Unknown(intent.ProvenanceFallback), nil
	}
	lower := strings.ToLower(text)

	switch {
	case helpRe.MatchString(text):
		return fallbackIntent(intent.KindHelp, nil)
	case containsAny(lower, listVerbs) && containsAny(lower, []string{"match", "fixture", "game"}):
		return fallbackIntent(intent.KindListMatches, nil)
	case containsAny(lower, createVerbs) && containsAny(lower, matchNouns):
		return f.parseCreateMatch(text, req)
	case startsWithAny(lower, messageVerbs):
		return f.parseSendMessage(text)
	default:
		return intent.Unknown(intent.ProvenanceFallback), nil
	}
}

func fallbackIntent(kind intent.Kind, params map[string]string) (*intent.Intent, error) {
	return intent.New(kind, params, fallbackConfidence, intent.ProvenanceFallback)
}

// parseCreateMatch extracts the match-creation parameters positionally,
// deleting each matched span from the working text so later extractions do
// not re-match earlier ones. Required-parameter enforcement happens at
// dispatch, never here: a partial parse is still a CreateMatch intent.
func (f *Fallback) parseCreateMatch(text string, req Request) (*intent.Intent, error) {
	params := make(map[string]string)
	working := text

	if m := notesRe.FindStringSubmatchIndex(working); m != nil {
		params[intent.ParamNotes] = strings.TrimSpace(working[m[2]:m[3]])
		working = working[:m[0]]
	}

	if m := opponentMarkerRe.FindStringIndex(working); m != nil {
		rest := working[m[1]:]
		opponent := cutAtAny(rest, opponentStops)
		if opponent != "" {
			params[intent.ParamOpponent] = strings.TrimSpace(opponent)
			working = working[:m[0]] + " " + rest[len(opponent):]
		}
	}

	if when, span, ok := FindDate(working, req.Reference); ok {
		params[intent.ParamDate] = when.Format(DateFormat)
		working = working[:span[0]] + " " + working[span[1]:]
	}

	if clock, span, ok := FindTime(working); ok {
		params[intent.ParamTime] = clock
		working = working[:span[0]] + " " + working[span[1]:]
	}

	if m := competitionRe.FindStringSubmatchIndex(working); m != nil {
		params[intent.ParamCompetition] = strings.TrimSpace(working[m[2]:m[3]])
		working = working[:m[0]] + " " + working[m[1]:]
	}

	switch {
	case venueHomeRe.MatchString(working):
		params[intent.ParamVenue] = "home"
	case venueAwayRe.MatchString(working):
		params[intent.ParamVenue] = "away"
	default:
		if m := venueAtRe.FindStringSubmatch(working); m != nil {
			venue := strings.TrimSpace(cutAtAny(m[1], opponentStops))
			if venue != "" && !containsAny(strings.ToLower(venue), matchNouns) {
				params[intent.ParamVenue] = venue
			}
		}
	}

	return fallbackIntent(intent.KindCreateMatch, params)
}

// parseSendMessage strips the leading verb phrase; everything left is the
// message body.
func (f *Fallback) parseSendMessage(text string) (*intent.Intent, error) {
	body := text
	for _, re := range []*regexp.Regexp{messageLeadRe, announceRe, sendMsgRe} {
		if m := re.FindStringIndex(body); m != nil {
			body = body[m[1]:]
			break
		}
	}
	body = strings.TrimSpace(body)
	if body == text {
		// A bare verb with no recognised lead-in is too ambiguous to act on.
		return intent.Unknown(intent.ProvenanceFallback), nil
	}
	params := map[string]string{intent.ParamMessage: body}
	return fallbackIntent(intent.KindSendMessage, params)
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

func startsWithAny(text string, prefixes []string) bool {
	trimmed := strings.TrimPrefix(strings.TrimSpace(text), "please ")
	for _, p := range prefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

// cutAtAny returns the prefix of text before the earliest stop marker.
func cutAtAny(text string, stops []string) string {
	cut := len(text)
	lower := strings.ToLower(text)
	for _, stop := range stops {
		if idx := strings.Index(lower, stop); idx >= 0 && idx < cut {
			cut = idx
		}
	}
	return strings.TrimSpace(text[:cut])
}
