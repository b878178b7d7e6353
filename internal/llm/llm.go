// Package llm defines the generation capabilities the analysis loop consumes
// and the clients that back them.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/janani-sekar/AEAExtensions/internal/config"
	"github.com/janani-sekar/AEAExtensions/internal/domain"
)

var (
	// ErrEmptyResponse means the service answered but no usable code or
	// decision could be extracted.
	ErrEmptyResponse = errors.New("empty generation response")
	// ErrAuth means the service rejected the credentials; not retried.
	ErrAuth = errors.New("generation service authentication failed")
	// ErrRateLimited is returned once retries for HTTP 429 are exhausted.
	ErrRateLimited = errors.New("generation service rate limited")
)

// Client sends one prompt to a generation service.
type Client interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// CodeRequest asks for a new code unit. Guidance carries critique text for a
// revision; Proposal.Feedback and Proposal.PriorCode drive improvements.
type CodeRequest struct {
	Proposal     domain.Proposal
	Schema       string
	PaperSummary string
	DataPath     string
	PriorCode    string
	Guidance     string
}

// FixRequest asks for a repaired version of a failing unit.
type FixRequest struct {
	Code        string
	Kind        domain.OutcomeKind
	ErrorSignal string
	DocContext  string
}

// CritiqueRequest asks whether a successful execution is satisfactory.
type CritiqueRequest struct {
	Proposal domain.Proposal
	Code     string
	Output   string
}

// Decision is the critique gate's answer
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionRevise Decision = "revise"
)

// Critique is the parsed reply of a critique request
type Critique struct {
	Decision Decision `json:"decision"`
	Guidance string   `json:"guidance,omitempty"`
}

// CodeGenerator produces the initial or a revised unit for a proposal.
type CodeGenerator interface {
	GenerateCode(ctx context.Context, req CodeRequest) (string, error)
}

// FixGenerator produces a repaired unit.
type FixGenerator interface {
	GenerateFix(ctx context.Context, req FixRequest) (string, error)
}

// Critic judges successful results.
type Critic interface {
	Critique(ctx context.Context, req CritiqueRequest) (Critique, error)
}

// Proposer suggests candidate analyses for a dataset.
type Proposer interface {
	ProposeAnalyses(ctx context.Context, paperSummary, schema string, n int) ([]domain.Proposal, error)
}

// Capabilities bundles everything a driver needs from the service. The
// implementations must be safe for concurrent use by many drivers.
type Capabilities interface {
	CodeGenerator
	FixGenerator
	Critic
}

// NewClient builds the client for cfg.Provider, reading the API key from the
// environment variable cfg.APIKeyEnv.
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%s is not set", cfg.APIKeyEnv)
	}
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:     key,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			MaxTokens:  cfg.MaxTokens,
			Timeout:    cfg.RequestTimeout.Std(),
			MaxRetries: cfg.MaxRetries,
		}, logger), nil
	case "gemini":
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:    key,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
