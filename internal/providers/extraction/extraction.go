// Package extraction implements the ExtractionProvider abstraction of
// a single extract() call that turns chunk text plus rolling
// concept context into a strictly-typed ExtractionResult. The production
// backend calls the Anthropic Messages API with a JSON-forcing tool
// definition, grounded on anthropic client usage
// (MessageNewParams / Messages.New) and on
// internal/service/category/ai_service.go's prompt-build /
// parse-response / retry-on-malformed-JSON shape.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/itchyny/gojq"

	"kgraph-backend/internal/domain"
	kgerrors "kgraph-backend/internal/errors"
)

// Provider is the ExtractionProvider interface ExtractionWorker depends on.
type Provider interface {
	Extract(ctx context.Context, chunkText string, context []domain.ContextConcept) (domain.ExtractionResult, error)
}

// ProviderConfig holds the swappable Anthropic call parameters.
type ProviderConfig struct {
	APIKey    string
	Model     string
	MaxTokens int64
}

const extractionToolName = "record_extraction"

// extractionToolSchema forces the model to return concepts/instances/
// relationships as a single structured tool call rather than free text,
// matching "strictly-typed structure" contract. Wired into
// ToolInputSchemaParam.Properties/Required in attempt below.
var extractionToolSchema = struct {
	Properties any
	Required   []string
}{
	Properties: map[string]any{
		"concepts": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"concept_id_suggestion": map[string]any{"type": "string"},
					"label":                 map[string]any{"type": "string"},
					"confidence":            map[string]any{"type": "number"},
					"search_terms":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"concept_id_suggestion", "label", "confidence"},
			},
		},
		"instances": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"concept_id_suggestion": map[string]any{"type": "string"},
					"quote":                 map[string]any{"type": "string"},
				},
				"required": []string{"concept_id_suggestion", "quote"},
			},
		},
		"relationships": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"from":              map[string]any{"type": "string"},
					"to":                map[string]any{"type": "string"},
					"relationship_type": map[string]any{"type": "string"},
					"confidence":        map[string]any{"type": "number"},
				},
				"required": []string{"from", "to", "relationship_type", "confidence"},
			},
		},
	},
	Required: []string{"concepts", "instances", "relationships"},
}

// AnthropicProvider calls the Anthropic Messages API.
type AnthropicProvider struct {
	cfg atomic.Pointer[ProviderConfig]
}

func NewAnthropicProvider(initial ProviderConfig) *AnthropicProvider {
	p := &AnthropicProvider{}
	p.cfg.Store(&initial)
	return p
}

func (p *AnthropicProvider) Reload(cfg ProviderConfig) {
	p.cfg.Store(&cfg)
}

func (p *AnthropicProvider) Extract(ctx context.Context, chunkText string, context []domain.ContextConcept) (domain.ExtractionResult, error) {
	result, err := p.attempt(ctx, chunkText, context, false)
	if err == nil {
		return result, nil
	}
	// One retry with a stricter re-prompt.
	result, err2 := p.attempt(ctx, chunkText, context, true)
	if err2 == nil {
		return result, nil
	}
	return domain.ExtractionResult{}, kgerrors.Wrap(err2, "extraction failed after retry with stricter prompt")
}

func (p *AnthropicProvider) attempt(ctx context.Context, chunkText string, ctxConcepts []domain.ContextConcept, strict bool) (domain.ExtractionResult, error) {
	cfg := p.cfg.Load()
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))

	prompt := buildPrompt(chunkText, ctxConcepts, strict)

	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(cfg.Model),
		MaxTokens: cfg.MaxTokens,
		Messages:  []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Tools: []anthropic.ToolUnionParam{
			anthropic.ToolUnionParamOfTool(anthropic.ToolInputSchemaParam{
				Properties: extractionToolSchema.Properties,
				Required:   extractionToolSchema.Required,
			}, extractionToolName),
		},
	})
	if err != nil {
		return domain.ExtractionResult{}, kgerrors.ProviderUnavailable("anthropic extraction request failed", err)
	}

	raw := toolResultJSON(resp)
	if raw == "" {
		return domain.ExtractionResult{}, kgerrors.New(kgerrors.KindMalformedExtraction, "malformed_extraction", "no tool-use block in response")
	}

	result, err := parseResult(raw)
	if err != nil {
		return domain.ExtractionResult{}, err
	}
	result = filterInvalidQuotes(result, chunkText)
	return result, nil
}

func buildPrompt(chunkText string, ctxConcepts []domain.ContextConcept, strict bool) string {
	var sb strings.Builder
	sb.WriteString("Extract concepts, evidence instances, and relationships from the following text.\n")
	if len(ctxConcepts) > 0 {
		sb.WriteString("Known concepts you may re-use by id:\n")
		for _, c := range ctxConcepts {
			fmt.Fprintf(&sb, "- %s: %s (%s)\n", c.ConceptID, c.Label, strings.Join(c.SearchTerms, ", "))
		}
	}
	if strict {
		sb.WriteString("Your previous response was not valid JSON matching the schema. Return ONLY a single tool call with no prose.\n")
	}
	sb.WriteString("\nTEXT:\n")
	sb.WriteString(chunkText)
	return sb.String()
}

// toolResultJSON extracts the first tool_use block's input as a raw JSON
// string, the structured-output idiom matching a "parse-response" step.
func toolResultJSON(msg *anthropic.Message) string {
	for _, block := range msg.Content {
		if tu := block.AsToolUse(); tu.Name == extractionToolName {
			data, err := json.Marshal(tu.Input)
			if err != nil {
				continue
			}
			return string(data)
		}
	}
	return ""
}

func parseResult(raw string) (domain.ExtractionResult, error) {
	var result domain.ExtractionResult
	if err := json.Unmarshal([]byte(raw), &result); err == nil {
		return result, nil
	}
	recovered, err := recoverWithGojq(raw)
	if err != nil {
		return domain.ExtractionResult{}, kgerrors.New(kgerrors.KindMalformedExtraction, "malformed_extraction", "could not parse or recover extraction JSON").WithCause(err)
	}
	return recovered, nil
}

// recoverWithGojq tries to salvage a partial result from a document that is
// valid JSON but does not fit ExtractionResult, by querying the three
// expected top-level arrays independently, so one wrongly shaped field
// doesn't discard the other two. Syntactically invalid JSON is returned as
// an error.
func recoverWithGojq(raw string) (domain.ExtractionResult, error) {
	var generic any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return domain.ExtractionResult{}, err
	}

	var result domain.ExtractionResult
	if v, ok := queryField(generic, ".concepts"); ok {
		_ = json.Unmarshal(mustJSON(v), &result.Concepts)
	}
	if v, ok := queryField(generic, ".instances"); ok {
		_ = json.Unmarshal(mustJSON(v), &result.Instances)
	}
	if v, ok := queryField(generic, ".relationships"); ok {
		_ = json.Unmarshal(mustJSON(v), &result.Relationships)
	}
	return result, nil
}

func queryField(input any, expr string) (any, bool) {
	q, err := gojq.Parse(expr)
	if err != nil {
		return nil, false
	}
	iter := q.Run(input)
	v, ok := iter.Next()
	if !ok {
		return nil, false
	}
	if err, isErr := v.(error); isErr {
		_ = err
		return nil, false
	}
	return v, true
}

func mustJSON(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

// filterInvalidQuotes enforces "each quote MUST be a
// substring of chunk_text" rule, dropping violating instances rather than
// failing the whole extraction.
func filterInvalidQuotes(result domain.ExtractionResult, chunkText string) domain.ExtractionResult {
	kept := make([]domain.InstanceCandidate, 0, len(result.Instances))
	for _, inst := range result.Instances {
		if strings.Contains(chunkText, inst.Quote) {
			kept = append(kept, inst)
		}
	}
	result.Instances = kept
	return result
}

// MockProvider is a deterministic extraction stand-in for tests.
type MockProvider struct {
	Result domain.ExtractionResult
	Err    error
}

func (m MockProvider) Extract(ctx context.Context, chunkText string, context []domain.ContextConcept) (domain.ExtractionResult, error) {
	return m.Result, m.Err
}
