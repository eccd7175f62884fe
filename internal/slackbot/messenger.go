package slackbot

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// Poster Slack Web API 中用到的两个方法，*slack.Client 已实现
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
}

var _ Poster = (*slack.Client)(nil)

// ThreadMessenger 在固定频道的线程里发送/更新消息，句柄是消息的 ts
type ThreadMessenger struct {
	api      Poster
	channel  string
	threadTS string
}

func NewThreadMessenger(api Poster, channel, threadTS string) *ThreadMessenger {
	return &ThreadMessenger{api: api, channel: channel, threadTS: threadTS}
}

func (m *ThreadMessenger) Send(ctx context.Context, text string) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if m.threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(m.threadTS))
	}
	_, ts, err := m.api.PostMessageContext(ctx, m.channel, opts...)
	if err != nil {
		return "", fmt.Errorf("post message to %s: %w", m.channel, err)
	}
	return ts, nil
}

func (m *ThreadMessenger) Update(ctx context.Context, handle, text string) error {
	_, _, _, err := m.api.UpdateMessageContext(ctx, m.channel, handle, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("update message %s: %w", handle, err)
	}
	return nil
}
