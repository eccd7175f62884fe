package bot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQQ struct {
	visible []string
}

func (f *fakeQQ) send(text string) func() {
	idx := len(f.visible)
	f.visible = append(f.visible, text)
	return func() { f.visible[idx] = "" }
}

func (f *fakeQQ) shown() []string {
	var out []string
	for _, v := range f.visible {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func TestQQMessenger_UpdateRecallsAndResends(t *testing.T) {
	f := &fakeQQ{}
	m := newQQMessenger(f.send)
	ctx := context.Background()

	h, err := m.Send(ctx, "thinking")
	require.NoError(t, err)
	require.NoError(t, m.Update(ctx, h, "partial"))
	require.NoError(t, m.Update(ctx, h, "partial answer"))

	assert.Equal(t, []string{"partial answer"}, f.shown())
}

func TestQQMessenger_UnknownHandle(t *testing.T) {
	m := newQQMessenger((&fakeQQ{}).send)
	assert.Error(t, m.Update(context.Background(), "nope", "x"))
}

func TestQQChannel(t *testing.T) {
	assert.Equal(t, "group:42", qqChannel(42, 7))
	assert.Equal(t, "private:7", qqChannel(0, 7))
}
