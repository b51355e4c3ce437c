package llm

import (
	"context"
	"fmt"
	"iter"

	"google.golang.org/genai"
)

// Gemini implements Client on the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// Ensure Gemini implements Client.
var _ Client = (*Gemini)(nil)

// NewGemini creates a Gemini-backed client.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if model == "" {
		model = "gemini-2.5-flash"
	}

	return &Gemini{client: client, model: model}, nil
}

// Complete performs a single-shot completion.
func (g *Gemini) Complete(ctx context.Context, messages []Message) (string, error) {
	contents, config := g.convert(messages)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return resp.Text(), nil
}

// Stream performs a streaming completion, yielding text fragments in
// arrival order. Empty fragments are skipped.
func (g *Gemini) Stream(ctx context.Context, messages []Message) iter.Seq2[string, error] {
	contents, config := g.convert(messages)
	return func(yield func(string, error) bool) {
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, config) {
			if err != nil {
				yield("", fmt.Errorf("stream content: %w", err))
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

// convert maps role-tagged messages onto the genai request shape. System
// messages become the system instruction; assistant turns use the "model"
// role.
func (g *Gemini) convert(messages []Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	var config *genai.GenerateContentConfig
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			if config == nil {
				config = &genai.GenerateContentConfig{}
			}
			config.SystemInstruction = genai.NewContentFromText(msg.Content, genai.RoleUser)
		case "assistant":
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}

	return contents, config
}
