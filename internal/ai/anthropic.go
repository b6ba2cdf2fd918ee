package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rcoelho/apura/internal/config"
	"github.com/rcoelho/apura/internal/domain"
)

const suggestSystemPrompt = `You are a data-quality assistant for electoral result imports.
Given one validation issue, propose a remediation as strict JSON:
{"action": "<correct_value|remove_row|needs_review>", "new_value": "<proposed value or empty>", "confidence": <0.0-1.0>, "reasoning": "<one sentence>"}
Reply with the JSON object only. If no sensible fix exists, use action "needs_review" with confidence 0.`

const summarizeSystemPrompt = `You are a data-quality assistant for electoral result imports.
Summarize the validation findings for an import in at most four sentences,
highlighting the most severe or most frequent problems. Reply with plain text only.`

// AnthropicSuggester implements Suggester on the Anthropic Messages API.
type AnthropicSuggester struct {
	client anthropic.Client
	model  string
}

// NewAnthropicSuggester creates a Suggester backed by Anthropic.
// Parameters:
//   - cfg: AI configuration (API key, model).
// Returns:
//   - *AnthropicSuggester: suggester instance.
//   - error: non-nil if the API key is missing.
func NewAnthropicSuggester(cfg *config.AIConfig) (*AnthropicSuggester, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic suggester requires an API key")
	}
	return &AnthropicSuggester{
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  cfg.Model,
	}, nil
}

// Suggest asks the model for a remediation proposal for one issue.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - issue: issue to propose a fix for.
// Returns:
//   - *domain.SuggestedFix: parsed proposal, nil when the model declines.
//   - error: non-nil on API or parse failure; callers treat it as absence.
func (s *AnthropicSuggester) Suggest(ctx context.Context, issue *domain.ValidationIssue) (*domain.SuggestedFix, error) {
	prompt := fmt.Sprintf(
		"Issue type: %s\nSeverity: %s\nCategory: %s\nRow: %s\nField: %s\nCurrent value: %s\nDescription: %s",
		issue.Type, issue.Severity, issue.Category, issue.RowReference, issue.Field, issue.CurrentValue, issue.Message,
	)

	text, err := s.call(ctx, suggestSystemPrompt, prompt, 512)
	if err != nil {
		return nil, err
	}

	var fix domain.SuggestedFix
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &fix); err != nil {
		return nil, fmt.Errorf("failed to parse suggestion: %w", err)
	}
	if fix.Action == "" {
		return nil, nil
	}
	return &fix, nil
}

// Summarize asks the model for a narrative analysis of a run's issues.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: import job the run belongs to.
//   - issues: issues found by the run; a bounded sample is sent.
// Returns:
//   - string: analysis text.
//   - error: non-nil on API failure; callers treat it as absence.
func (s *AnthropicSuggester) Summarize(ctx context.Context, job *domain.ImportJob, issues []domain.ValidationIssue) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Import of %s (%s family), %d rows processed, %d issues found.\n",
		job.SourceName, job.Family, job.ProcessedRows, len(issues))
	limit := len(issues)
	if limit > 50 {
		limit = 50
	}
	for _, issue := range issues[:limit] {
		fmt.Fprintf(&sb, "- [%s/%s] %s: %s\n", issue.Severity, issue.Type, issue.RowReference, issue.Message)
	}

	return s.call(ctx, summarizeSystemPrompt, sb.String(), 1024)
}

func (s *AnthropicSuggester) call(ctx context.Context, systemPrompt, userPrompt string, maxTokens int64) (string, error) {
	message, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in anthropic response")
}

// stripCodeFence removes a surrounding markdown code fence, which models
// sometimes add despite instructions.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
