package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/janani-sekar/AEAExtensions/internal/domain"
	"github.com/janani-sekar/AEAExtensions/internal/logging"
	"github.com/janani-sekar/AEAExtensions/internal/prompts"
)

// AssistantConfig configures an Assistant
type AssistantConfig struct {
	Language  string // language of generated code, "python" or "go"
	Prompts   *prompts.Loader
	PromptLog *logging.PromptLogger
	Logger    *zap.Logger
}

// Assistant implements every capability on top of a single Client using the
// analysis prompt templates.
type Assistant struct {
	client    Client
	language  string
	prompts   *prompts.Loader
	promptLog *logging.PromptLogger
	logger    *zap.Logger
}

var _ Capabilities = (*Assistant)(nil)
var _ Proposer = (*Assistant)(nil)

// NewAssistant creates an Assistant.
func NewAssistant(client Client, cfg AssistantConfig) *Assistant {
	if cfg.Language == "" {
		cfg.Language = "python"
	}
	if cfg.Prompts == nil {
		cfg.Prompts = prompts.NewLoader()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Assistant{
		client:    client,
		language:  cfg.Language,
		prompts:   cfg.Prompts,
		promptLog: cfg.PromptLog,
		logger:    cfg.Logger,
	}
}

// Language reports the language generated code is written in.
func (a *Assistant) Language() string {
	return a.language
}

func (a *Assistant) complete(ctx context.Context, stage, user string) (string, error) {
	system, err := a.prompts.BuildSystemPrompt(prompts.SystemData{Language: a.language})
	if err != nil {
		return "", err
	}
	start := time.Now()
	reply, err := a.client.Complete(ctx, system, user)
	a.promptLog.Record(stage, user, reply, time.Since(start), err)
	if err != nil {
		a.logger.Debug("generation call failed", zap.String("stage", stage), zap.Error(err))
		return "", err
	}
	return reply, nil
}

// GenerateCode writes the code for a proposal. With guidance or user
// feedback set it revises the prior code instead.
func (a *Assistant) GenerateCode(ctx context.Context, req CodeRequest) (string, error) {
	prior := req.PriorCode
	if prior == "" {
		prior = req.Proposal.PriorCode
	}
	user, err := a.prompts.BuildGeneratePrompt(prompts.GenerateData{
		Language:     a.language,
		Proposal:     req.Proposal.String(),
		Schema:       req.Schema,
		PaperSummary: req.PaperSummary,
		DataPath:     req.DataPath,
		PriorCode:    prior,
		Guidance:     req.Guidance,
		Feedback:     req.Proposal.Feedback,
	})
	if err != nil {
		return "", err
	}
	reply, err := a.complete(ctx, "generate_code", user)
	if err != nil {
		return "", err
	}
	return a.code(reply)
}

// GenerateFix returns a corrected version of a failing cell.
func (a *Assistant) GenerateFix(ctx context.Context, req FixRequest) (string, error) {
	user, err := a.prompts.BuildFixPrompt(prompts.FixData{
		Language:    a.language,
		Code:        req.Code,
		Kind:        string(req.Kind),
		ErrorSignal: req.ErrorSignal,
		DocContext:  req.DocContext,
	})
	if err != nil {
		return "", err
	}
	reply, err := a.complete(ctx, "generate_fix", user)
	if err != nil {
		return "", err
	}
	return a.code(reply)
}

// Critique reviews a clean run and decides between accept and revise.
func (a *Assistant) Critique(ctx context.Context, req CritiqueRequest) (Critique, error) {
	user, err := a.prompts.BuildCritiquePrompt(prompts.CritiqueData{
		Language: a.language,
		Proposal: req.Proposal.String(),
		Code:     req.Code,
		Output:   req.Output,
	})
	if err != nil {
		return Critique{}, err
	}
	reply, err := a.complete(ctx, "critique", user)
	if err != nil {
		return Critique{}, err
	}
	return ParseCritique(reply)
}

// ProposeAnalyses asks for n candidate analyses and returns at most n.
func (a *Assistant) ProposeAnalyses(ctx context.Context, paperSummary, schema string, n int) ([]domain.Proposal, error) {
	if n < 1 {
		return nil, fmt.Errorf("number of analyses must be >= 1, got %d", n)
	}
	user, err := a.prompts.BuildProposePrompt(prompts.ProposeData{
		Count:        n,
		PaperSummary: paperSummary,
		Schema:       schema,
	})
	if err != nil {
		return nil, err
	}
	reply, err := a.complete(ctx, "propose", user)
	if err != nil {
		return nil, err
	}
	props, err := ParseProposals(reply)
	if err != nil {
		return nil, err
	}
	if len(props) > n {
		props = props[:n]
	}
	return props, nil
}

func (a *Assistant) code(reply string) (string, error) {
	code := ExtractCode(reply, a.language)
	if strings.TrimSpace(code) == "" {
		return "", ErrEmptyResponse
	}
	return code, nil
}
