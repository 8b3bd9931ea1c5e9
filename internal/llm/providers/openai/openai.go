// internal/llm/providers/openai/openai.go
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/storyloom/storyloom/internal/llm"
)

func init() {
	llm.Register("openai", func() llm.Provider {
		return &Provider{
			recommendedModels: []string{
				"gpt-4o",
				"gpt-4o-mini",
				"gpt-4.1",
				"gpt-4.1-mini",
			},
		}
	})
}

// Provider implements llm.Provider on the official OpenAI client.
type Provider struct {
	client            oai.Client
	defaultModel      string
	recommendedModels []string
	customModels      []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey, exists := config["api_key"]
	if !exists || apiKey == "" {
		return errors.New("openai api key not provided")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL := config["base_url"]; baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, option.WithHTTPClient(&http.Client{
		Timeout: 30 * time.Second,
	}))

	p.client = oai.NewClient(opts...)

	if model, exists := config["default_model"]; exists && model != "" {
		p.defaultModel = model
	} else {
		p.defaultModel = "gpt-4o-mini"
	}

	return nil
}

func (p *Provider) GetName() string {
	return "OpenAI"
}

func (p *Provider) GetSupportedModels() []string {
	if len(p.customModels) > 0 {
		return p.customModels
	}
	return p.recommendedModels
}

// SetCustomModels overrides the advertised model list.
func (p *Provider) SetCustomModels(models []string) {
	p.customModels = models
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := []oai.ChatCompletionMessageParamUnion{}
	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, oai.UserMessage(req.Prompt))

	params := oai.ChatCompletionNewParams{
		Model:    oai.ChatModel(model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = oai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = oai.Float(float64(req.Temperature))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("openai completion: empty choices")
	}

	choice := completion.Choices[0]
	return &llm.CompletionResponse{
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		TokensUsed:   int(completion.Usage.TotalTokens),
		ModelName:    model,
		ProviderName: p.GetName(),
	}, nil
}
