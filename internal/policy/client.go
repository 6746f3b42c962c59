package policy

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"helmsman/internal/logging"
	"helmsman/internal/types"
)

// =============================================================================
// GOOGLE GENAI POLICY CLIENT
// =============================================================================

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.0-flash"

// GenAIPolicy proposes action batches using Google's Gemini API.
type GenAIPolicy struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGenAIPolicy creates a new GenAI-backed policy client.
func NewGenAIPolicy(apiKey, model string, temperature float32) (*GenAIPolicy, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIPolicy{
		client:      client,
		model:       model,
		temperature: temperature,
	}, nil
}

// Propose sends one proposal request and decodes the response into a batch.
// Malformed model output yields an empty batch, never an error; transport
// failures are returned as errors.
func (p *GenAIPolicy) Propose(ctx context.Context, req types.ProposeRequest) (*types.ActionBatch, error) {
	contents := buildContents(req)

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr(p.temperature),
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	result, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("GenAI generate failed: %w", err)
	}

	text := result.Text()
	logging.PolicyDebug("proposal response: %d bytes", len(text))
	return DecodeBatch(text), nil
}

// Name returns the client name.
func (p *GenAIPolicy) Name() string {
	return fmt.Sprintf("genai:%s", p.model)
}

// buildContents flattens the request into the Gemini content list:
// worked examples first, then conversation history, then correction hints
// as a trailing user message.
func buildContents(req types.ProposeRequest) []*genai.Content {
	var contents []*genai.Content

	for _, ex := range req.Examples {
		contents = append(contents,
			genai.NewContentFromText(ex.User, genai.RoleUser),
			genai.NewContentFromText(ex.Assistant, genai.RoleModel),
		)
	}

	for _, msg := range req.History {
		var role genai.Role = genai.RoleUser
		if msg.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}

	if len(req.Hints) > 0 {
		var b strings.Builder
		b.WriteString("Corrections from the previous step:\n")
		for _, h := range req.Hints {
			fmt.Fprintf(&b, "- %s\n", h)
		}
		contents = append(contents, genai.NewContentFromText(b.String(), genai.RoleUser))
	}

	if req.OneShot {
		contents = append(contents, genai.NewContentFromText(
			"Respond with exactly one terminal action (respond, report, or escalate) summarizing the situation for the operator. Propose nothing else.",
			genai.RoleUser))
	}

	if len(contents) == 0 {
		contents = append(contents, genai.NewContentFromText("Proceed.", genai.RoleUser))
	}

	return contents
}
