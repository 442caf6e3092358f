package decompose

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/sirupsen/logrus"

	"github.com/ShayCichocki/taskgraph/internal/classify"
	"github.com/ShayCichocki/taskgraph/internal/logging"
	"github.com/ShayCichocki/taskgraph/pkg/models"
)

// DefaultMaxTokens bounds a decomposition response.
const DefaultMaxTokens = 2048

// ClaudeConfig configures the Claude decomposer.
type ClaudeConfig struct {
	// Model is the Claude model to use. Empty selects Sonnet 4.
	Model string
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY env var.
	APIKey string
	// UseBedrock sends requests through AWS Bedrock instead of the direct API.
	UseBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
	// MaxTokens defaults to DefaultMaxTokens.
	MaxTokens int64
}

// messenger is the part of the Anthropic client the decomposer calls.
type messenger interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Claude asks Claude how to split a task. Tasks below the complexity
// threshold are left alone, and any API or parse failure falls back to the
// template plan for the task's type.
type Claude struct {
	messages  messenger
	model     anthropic.Model
	maxTokens int64
	store     Store
	template  *Template
	log       logrus.FieldLogger
}

// NewClaude creates a Claude decomposer. The template decides which tasks
// are complex enough and supplies the fallback plans.
func NewClaude(ctx context.Context, cfg ClaudeConfig, store Store, template *Template, log logrus.FieldLogger) (*Claude, error) {
	var opts []option.RequestOption

	if cfg.UseBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	client := anthropic.NewClient(opts...)

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if cfg.UseBedrock {
		model = BedrockModel(model)
	}
	return newClaude(&client.Messages, model, cfg.MaxTokens, store, template, log), nil
}

func newClaude(m messenger, model anthropic.Model, maxTokens int64, store Store, template *Template, log logrus.FieldLogger) *Claude {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Claude{
		messages:  m,
		model:     model,
		maxTokens: maxTokens,
		store:     store,
		template:  template,
		log:       logging.Component(log, "decompose"),
	}
}

// Model returns the model requests are sent to.
func (d *Claude) Model() anthropic.Model {
	return d.model
}

// BedrockModel converts standard model names to Bedrock cross-region
// inference profiles (us.anthropic.{model}-v1:0). Unknown names pass through.
func BedrockModel(model anthropic.Model) anthropic.Model {
	profiles := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaude3_7Sonnet20250219:  "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}
	if p, ok := profiles[model]; ok {
		return anthropic.Model(p)
	}
	return model
}

// Decompose creates the subtasks Claude proposes for task.
func (d *Claude) Decompose(ctx context.Context, task *models.Task) ([]*models.Task, error) {
	t, score, split := d.template.Assess(task)
	if !split {
		return nil, nil
	}
	rec := Record{Provider: "claude", TaskType: t, Complexity: score}

	plans, err := d.plan(ctx, task)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.log.WithError(err).WithField("task_id", task.ID).Warn("claude decomposition failed, using template")
		plans = classify.Plan(task.Name, t)
		rec.Provider = "template"
	}
	return create(ctx, d.store, task, plans, rec, d.log)
}

func (d *Claude) plan(ctx context.Context, task *models.Task) ([]classify.SubtaskPlan, error) {
	prompt := fmt.Sprintf(decompositionPrompt, task.Name, task.Description)
	resp, err := d.messages.New(ctx, anthropic.MessageNewParams{
		Model:     d.model,
		MaxTokens: d.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claude request: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return ParseResponse(text.String())
}
