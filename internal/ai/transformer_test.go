package ai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetwise/internal/config"
	"sheetwise/internal/models"
	"sheetwise/internal/resilience"
)

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	_, err := NewOpenAIClient(config.AIConfig{Model: "gpt-4o-mini"})
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)

	client, err := NewOpenAIClient(config.AIConfig{APIKey: "sk-test", Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestPromptForKnownOperations(t *testing.T) {
	template, schema := PromptFor(models.OperationSummarize, nil)
	assert.Contains(t, template, "{{content}}")
	assert.Empty(t, schema)

	template, schema = PromptFor(models.OperationScore, map[string]string{})
	assert.Contains(t, template, "{{content}}")
	assert.Contains(t, template, "JSON")
	assert.NotEmpty(t, schema)

	template, schema = PromptFor(models.OperationExtract, nil)
	assert.Contains(t, template, "{{content}}")
	assert.NotEmpty(t, schema)
}

func TestPromptForHonorsInstructionOverride(t *testing.T) {
	template, _ := PromptFor(models.OperationSummarize, map[string]string{
		"instruction": "Summarize in pirate speak.",
	})
	assert.Contains(t, template, "Summarize in pirate speak.")
	assert.Contains(t, template, "{{content}}")
}

func TestPromptForUnknownOperationFallsThrough(t *testing.T) {
	template, schema := PromptFor("unknown", nil)
	assert.Equal(t, "{{content}}", template)
	assert.Empty(t, schema)
}

func TestNormalizeErrorMapsTimeouts(t *testing.T) {
	assert.ErrorIs(t, normalizeError(context.DeadlineExceeded), resilience.ErrTimeout)
	assert.ErrorIs(t, normalizeError(assert.AnError), resilience.ErrUnavailable)
}

func TestIsValidJSON(t *testing.T) {
	assert.True(t, isValidJSON(`{"score": 7}`))
	assert.True(t, isValidJSON(`["a","b"]`))
	assert.False(t, isValidJSON("plain text"))
	assert.False(t, isValidJSON(""))
}
