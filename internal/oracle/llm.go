package oracle

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/signald/internal/config"
	"github.com/fyrsmithlabs/signald/internal/store"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

const (
	// maxSampleChars bounds the prompt regardless of how many posts are passed in.
	maxSampleChars = 4000
	maxSamples     = 20
)

// LLM classifies with a chat model.
type LLM struct {
	model  llms.Model
	logger *zap.Logger
}

// NewLLM wraps an existing langchaingo model.
func NewLLM(model llms.Model, logger *zap.Logger) *LLM {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLM{model: model, logger: logger}
}

// NewLLMFromConfig creates an OpenAI-compatible client from cfg.
func NewLLMFromConfig(cfg config.OracleConfig, logger *zap.Logger) (*LLM, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("oracle model is required")
	}
	token := cfg.APIKey.Value()
	if token == "" {
		// langchaingo requires a token; local OpenAI-compatible servers ignore it.
		token = "placeholder"
	}

	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(token),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	return NewLLM(llm, logger), nil
}

// Classify asks the model for a single category label.
func (c *LLM) Classify(ctx context.Context, texts []string) (store.Category, error) {
	if len(texts) == 0 {
		return 0, ErrEmptyInput
	}

	answer, err := llms.GenerateFromSinglePrompt(ctx, c.model, buildPrompt(texts),
		llms.WithTemperature(0),
		llms.WithMaxTokens(8),
	)
	if err != nil {
		return 0, fmt.Errorf("classification request: %w", err)
	}

	cat, err := parseLabel(answer)
	if err != nil {
		c.logger.Debug("model answered outside category set", zap.String("answer", answer))
		return 0, err
	}
	return cat, nil
}

func buildPrompt(texts []string) string {
	names := make([]string, 0, len(store.Categories()))
	for _, c := range store.Categories() {
		names = append(names, c.String())
	}

	var b strings.Builder
	b.WriteString("Classify the author of the following posts into exactly one category: ")
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(".\nAnswer with the category name only.\n\nPosts:\n")

	used := 0
	for i, t := range texts {
		if i == maxSamples || used >= maxSampleChars {
			break
		}
		t = strings.TrimSpace(t)
		if remaining := maxSampleChars - used; len(t) > remaining {
			t = t[:remaining]
		}
		used += len(t)
		b.WriteString("- ")
		b.WriteString(strings.ReplaceAll(t, "\n", " "))
		b.WriteString("\n")
	}
	return b.String()
}

// parseLabel accepts answers like "Trader", "trader." or "category: trader".
func parseLabel(answer string) (store.Category, error) {
	words := strings.FieldsFunc(strings.ToLower(answer), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if cat, err := store.ParseCategory(w); err == nil {
			return cat, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLabel, answer)
}
