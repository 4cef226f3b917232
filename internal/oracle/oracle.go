// Package oracle assigns category labels to identities from samples of their
// text, and sentiment labels to individual posts.
//
// Two classifiers implement the Classifier contract: an LLM-backed one using
// any OpenAI-compatible endpoint through langchaingo, and a regex heuristic
// that needs no network. Callers treat any error as "no label" and fall back
// to their configured default category.
package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/signald/internal/config"
	"github.com/fyrsmithlabs/signald/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrEmptyInput is returned when there is no text to classify.
	ErrEmptyInput = errors.New("no text to classify")

	// ErrUnknownLabel is returned when the model answers outside the category set.
	ErrUnknownLabel = errors.New("label outside category set")
)

// Classifier assigns one category from the fixed set to a batch of texts.
type Classifier interface {
	Classify(ctx context.Context, texts []string) (store.Category, error)
}

// New builds the classifier selected by cfg.
func New(cfg config.OracleConfig, logger *zap.Logger) (Classifier, error) {
	switch cfg.Provider {
	case "", "heuristic":
		return NewHeuristic(), nil
	case "openai":
		return NewLLMFromConfig(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Provider)
	}
}
