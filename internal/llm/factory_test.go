package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"group-chatter/internal/config"
)

func TestFactoryCreatesOpenAIClient(t *testing.T) {
	f := NewFactory(&config.Config{OpenAIAPIKey: "k", MaxResponseTokens: 300, Temperature: 0.7})
	c, err := f.CreateClient("OpenAI", "judge-model")
	require.NoError(t, err)

	oc, ok := c.(*OpenAIClient)
	require.True(t, ok)
	assert.Equal(t, "judge-model", oc.model)
	assert.Equal(t, 300, oc.opts.MaxTokens)
}

func TestFactoryUnknownProvider(t *testing.T) {
	f := NewFactory(&config.Config{})
	_, err := f.CreateClient("nope", "m")
	assert.Error(t, err)
}
