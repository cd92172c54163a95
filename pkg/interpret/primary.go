package interpret

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gafferhq/gaffer/pkg/errors"
	"github.com/gafferhq/gaffer/pkg/intent"
	"github.com/gafferhq/gaffer/pkg/llm"
)

const systemPromptTemplate = `You are the command interpreter for a team-management chat assistant.
Classify the user's message into exactly one of the commands below and extract its parameters.

Available commands for this requester:
%s
Reference date: %s

Respond with a single JSON object and nothing else:
{"kind": "<command name or unknown>", "params": {"<name>": "<value>"}, "confidence": <0..1>}

Dates must be formatted %s (resolve relative phrases against the reference date), times as HH:MM.`

// Primary is the AI-assisted interpretation stage. It treats the provider as
// a plain call/response service; transport errors, malformed replies and
// out-of-bounds confidence are all stage failures for the pipeline to handle.
type Primary struct {
	provider    llm.Provider
	model       string
	temperature float64
}

// NewPrimary creates the AI-assisted stage.
func NewPrimary(provider llm.Provider, model string) *Primary {
	return &Primary{provider: provider, model: model, temperature: 0.1}
}

// Interpret sends the raw text with contextual hints to the provider and
// parses the candidate intent out of the reply.
func (p *Primary) Interpret(ctx context.Context, req Request) (*intent.Intent, error) {
	chatReq := llm.ChatRequest{
		Model:       p.model,
		Temperature: p.temperature,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: fmt.Sprintf(systemPromptTemplate,
				req.Manifest, req.Reference.Format(DateFormat), DateFormat)},
			{Role: llm.RoleUser, Content: req.Text},
		},
	}

	resp, err := p.provider.Chat(ctx, chatReq)
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "primary interpretation call failed", err).
			WithRecoverable(true)
	}

	candidate, err := parseCandidate(resp.Content)
	if err != nil {
		return nil, err
	}

	parsed, err := intent.New(intent.ParseKind(candidate.Kind), candidate.Params,
		candidate.Confidence, intent.ProvenancePrimary)
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "provider returned out-of-bounds confidence", err)
	}
	parsed.Raw = req.Text
	return parsed, nil
}

type candidateIntent struct {
	Kind       string            `json:"kind"`
	Params     map[string]string `json:"params"`
	Confidence float64           `json:"confidence"`
}

// parseCandidate extracts the JSON object from the model reply, tolerating
// surrounding prose and markdown code fences.
func parseCandidate(content string) (*candidateIntent, error) {
	raw := strings.TrimSpace(content)
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}

	var candidate candidateIntent
	if err := json.Unmarshal([]byte(raw), &candidate); err != nil {
		return nil, errors.New(errors.CodeLLMError, "unparseable provider reply", err).
			WithContext("reply", content)
	}
	if candidate.Kind == "" {
		return nil, errors.New(errors.CodeLLMError, "provider reply missing intent kind", nil).
			WithContext("reply", content)
	}
	return &candidate, nil
}
