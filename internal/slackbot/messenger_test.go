package slackbot

import (
	"context"
	"errors"
	"testing"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingPoster struct{}

func (failingPoster) PostMessageContext(context.Context, string, ...slack.MsgOption) (string, string, error) {
	return "", "", errors.New("channel_not_found")
}

func (failingPoster) UpdateMessageContext(context.Context, string, string, ...slack.MsgOption) (string, string, string, error) {
	return "", "", "", errors.New("msg_too_long")
}

func mentionEvent(ts, threadTS string) *slackevents.AppMentionEvent {
	return &slackevents.AppMentionEvent{TimeStamp: ts, ThreadTimeStamp: threadTS}
}

func TestThreadMessenger(t *testing.T) {
	p := &fakePoster{}
	m := NewThreadMessenger(p, "C1", "1.0")

	h, err := m.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.NoError(t, m.Update(context.Background(), h, "hi there"))

	assert.Equal(t, []call{{"post", "C1", h}, {"update", "C1", h}}, p.snapshot())
}

func TestThreadMessengerErrors(t *testing.T) {
	m := NewThreadMessenger(failingPoster{}, "C1", "")

	_, err := m.Send(context.Background(), "hi")
	assert.ErrorContains(t, err, "channel_not_found")
	assert.ErrorContains(t, m.Update(context.Background(), "1.0", "x"), "msg_too_long")
}
