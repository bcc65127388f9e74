package classifier

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/defectwise/defectwise/internal/intelligence/taxonomy"
	"github.com/defectwise/defectwise/pkg/errors"
)

const defaultOpenAIModel = openai.GPT4oMini

// scoreSystemPrompt pins the model to a bare number so the reply parses
// with strconv. Anything else is treated as a malformed response.
const scoreSystemPrompt = "You rate sentences from building survey reports. " +
	"Reply with a single decimal number between 0 and 1 and nothing else."

// OpenAI scores sentences with a chat-completion model. The provider also
// speaks to any OpenAI-compatible endpoint through a base URL override.
type OpenAI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

var _ Classifier = (*OpenAI)(nil)

// NewOpenAI builds a chat-completion scorer. The API key is required; model,
// base URL and timeout fall back to defaults when empty.
func NewOpenAI(apiKey, baseURL, model string, timeout time.Duration) (*OpenAI, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New(errors.ErrCodeClassifierUnavailable, "classifier: openai api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	if timeout <= 0 {
		timeout = defaultScoreTimeout
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: timeout,
	}, nil
}

// Name implements Classifier.
func (o *OpenAI) Name() string { return "openai" }

// Score implements Classifier.
func (o *OpenAI) Score(ctx context.Context, sentence string, category taxonomy.Category) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	prompt := fmt.Sprintf("Probability that the following sentence reports a %q defect.\nSentence: %s",
		category, sentence)
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: scoreSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   8,
		Temperature: 0,
	})
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeClassifierInferenceFailed, "classifier: openai request failed")
	}
	if len(resp.Choices) == 0 {
		return 0, errors.New(errors.ErrCodeClassifierBadResponse, "classifier: openai returned no choices")
	}
	return parseScore(resp.Choices[0].Message.Content)
}

// parseScore extracts a probability from model output, tolerating
// surrounding whitespace and a trailing period.
func parseScore(content string) (float64, error) {
	text := strings.TrimSpace(content)
	text = strings.TrimRight(text, ".")
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, errors.Wrapf(err, errors.ErrCodeClassifierBadResponse, "classifier: unparseable score %q", content)
	}
	if v < 0 || v > 1 {
		return 0, errors.Newf(errors.ErrCodeClassifierBadResponse, "classifier: score %v is outside [0, 1]", v)
	}
	return v, nil
}

// Healthy implements Classifier.
func (o *OpenAI) Healthy(ctx context.Context) bool {
	_, err := o.client.ListModels(ctx)
	return err == nil
}

// Close implements Classifier.
func (o *OpenAI) Close() error { return nil }
