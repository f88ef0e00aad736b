package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"sheetwise/internal/config"
	"sheetwise/internal/models"
	"sheetwise/internal/resilience"
)

// ErrAPIKeyNotSet means the client cannot be constructed at all; a job
// hitting this is failed outright rather than retried.
var ErrAPIKeyNotSet = errors.New("OpenAI API key not set")

// TransformRequest is one row's worth of work for the model.
type TransformRequest struct {
	Content        string
	PromptTemplate string
	OutputSchema   string
}

// RowTransformer turns one row's source content into the target cell value.
type RowTransformer interface {
	TransformRow(ctx context.Context, req TransformRequest) (string, error)
}

// OpenAIClient implements RowTransformer against an OpenAI-compatible API.
// It does no retrying of its own: backoff lives in the resilience layer.
type OpenAIClient struct {
	client      openai.Client
	model       string
	temperature float64
	timeout     time.Duration
}

func NewOpenAIClient(cfg config.AIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	return &OpenAIClient{
		client:      openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
	}, nil
}

func (c *OpenAIClient) TransformRow(ctx context.Context, req TransformRequest) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	prompt := strings.ReplaceAll(req.PromptTemplate, "{{content}}", req.Content)

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(c.temperature),
	}
	if req.OutputSchema != "" {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		}
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", normalizeError(err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: no completion choices returned", resilience.ErrUnavailable)
	}

	content := completion.Choices[0].Message.Content
	if req.OutputSchema != "" && !isValidJSON(content) {
		return "", fmt.Errorf("%w: model returned non-JSON output", resilience.ErrBusy)
	}
	return content, nil
}

// PromptFor returns the default prompt template for an operation kind. The
// real prompt wording belongs to the caller; these are the built-in
// fallbacks.
func PromptFor(operation string, params map[string]string) (template, schema string) {
	instruction := params["instruction"]
	switch operation {
	case models.OperationSummarize:
		if instruction == "" {
			instruction = "Summarize the following content in one or two sentences."
		}
		return instruction + "\n\n{{content}}", ""
	case models.OperationScore:
		if instruction == "" {
			instruction = "Score the following content from 1 to 10."
		}
		return instruction + "\nRespond as JSON: {\"score\": <number>}\n\n{{content}}",
			`{"score": "number"}`
	case models.OperationExtract:
		if instruction == "" {
			instruction = "Extract the key terms from the following content."
		}
		return instruction + "\nRespond as JSON: {\"terms\": [<strings>]}\n\n{{content}}",
			`{"terms": "array"}`
	}
	return "{{content}}", ""
}

func normalizeError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrTimeout
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return fmt.Errorf("%w: %v", resilience.ErrRateLimited, err)
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return fmt.Errorf("%w: %v", resilience.ErrUnauthorized, err)
		case apiErr.StatusCode == 404:
			return fmt.Errorf("%w: %v", resilience.ErrNotFound, err)
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("%w: %v", resilience.ErrUnavailable, err)
		default:
			return fmt.Errorf("%w: %v", resilience.ErrInvalidInput, err)
		}
	}
	return fmt.Errorf("%w: %v", resilience.ErrUnavailable, err)
}

func isValidJSON(s string) bool {
	var js json.RawMessage
	return json.Unmarshal([]byte(s), &js) == nil
}

var _ RowTransformer = (*OpenAIClient)(nil)
