package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDocs(t *testing.T) {
	assert.Equal(t, "a\n\nb", FormatDocs([]string{"a", "b"}))
	assert.Equal(t, "", FormatDocs(nil))
}

func TestBuildRAGPrompt(t *testing.T) {
	out, err := BuildRAGPrompt("What is AI Starter?", []string{"doc one", "doc two"})
	require.NoError(t, err)

	assert.Contains(t, out, "Question: What is AI Starter?")
	assert.Contains(t, out, "Context: doc one\n\ndoc two")
	assert.Contains(t, out, "Answer:")
}
