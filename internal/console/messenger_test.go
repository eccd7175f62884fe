package console

import (
	"bytes"
	"context"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessenger_AppendsDeltas(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	m := NewMessenger(&buf)
	ctx := context.Background()

	h, err := m.Send(ctx, "考え中です")
	require.NoError(t, err)
	require.NoError(t, m.Update(ctx, h, "The answer"))
	require.NoError(t, m.Update(ctx, h, "The answer is 42."))
	m.Finish()

	assert.Equal(t, "Assistant: 考え中です\nAssistant: The answer is 42.\n", buf.String())
}

func TestMessenger_NewMessageStartsNewLine(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	m := NewMessenger(&buf)
	ctx := context.Background()

	_, err := m.Send(ctx, "first")
	require.NoError(t, err)
	_, err = m.Send(ctx, "second")
	require.NoError(t, err)
	m.Finish()

	assert.Equal(t, "Assistant: first\nAssistant: second\n", buf.String())
}

func TestMessenger_UnknownHandle(t *testing.T) {
	m := NewMessenger(&bytes.Buffer{})
	assert.Error(t, m.Update(context.Background(), "9", "x"))
}
