package slackbot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/liao/ragbot/internal/bot"
	"github.com/liao/ragbot/internal/retry"
)

const testSecret = "8f742231b10e8888abcd99yyyzzz85a5"

type call struct {
	method  string
	channel string
	ts      string
}

type fakePoster struct {
	mu    sync.Mutex
	calls []call
}

func (p *fakePoster) PostMessageContext(_ context.Context, channelID string, _ ...slack.MsgOption) (string, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ts := fmt.Sprintf("2000.%04d", len(p.calls))
	p.calls = append(p.calls, call{"post", channelID, ts})
	return channelID, ts, nil
}

func (p *fakePoster) UpdateMessageContext(_ context.Context, channelID, timestamp string, _ ...slack.MsgOption) (string, string, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call{"update", channelID, timestamp})
	return channelID, timestamp, "", nil
}

func (p *fakePoster) snapshot() []call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]call(nil), p.calls...)
}

type staticAnswerer struct{ text string }

func (a staticAnswerer) Stream(context.Context, string, []*genai.Content) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield(a.text, nil)
	}
}

func newTestServer(t *testing.T, poster *fakePoster, processBefore bool) *httptest.Server {
	t.Helper()
	h := bot.NewHandler(staticAnswerer{text: "answer"}, bot.WithThinkingMessage("thinking..."))
	s := NewServer(poster, h, Options{
		SigningSecret:         testSecret,
		ProcessBeforeResponse: processBefore,
		Policy:                retry.NewPolicy(),
	})
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(func() {
		srv.Close()
		s.Wait()
	})
	return srv
}

func signedRequest(t *testing.T, url, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(testSecret))
	_, _ = mac.Write([]byte("v0:" + ts + ":" + body))
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set("Content-Type", "application/json")
	return req
}

const mentionBody = `{"token":"t","team_id":"T1","api_app_id":"A1","type":"event_callback","event_id":"Ev1","event_time":1700000000,
"event":{"type":"app_mention","user":"U1","text":"<@UBOT> hello","ts":"1700000000.000100","channel":"C1","event_ts":"1700000000.000100"}}`

func TestServer_HelloAndHealth(t *testing.T) {
	srv := newTestServer(t, &fakePoster{}, true)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "hello world", string(body))

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_URLVerification(t *testing.T) {
	srv := newTestServer(t, &fakePoster{}, true)

	req := signedRequest(t, srv.URL+"/slack/events", `{"token":"t","challenge":"abc123","type":"url_verification"}`)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "abc123", string(body))
}

func TestServer_RejectsBadSignature(t *testing.T) {
	poster := &fakePoster{}
	srv := newTestServer(t, poster, true)

	req := signedRequest(t, srv.URL+"/slack/events", mentionBody)
	req.Header.Set("X-Slack-Signature", "v0=deadbeef")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, poster.snapshot())
}

func TestServer_AppMentionProcessedBeforeResponse(t *testing.T) {
	poster := &fakePoster{}
	srv := newTestServer(t, poster, true)

	resp, err := http.DefaultClient.Do(signedRequest(t, srv.URL+"/slack/events", mentionBody))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	calls := poster.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, call{"post", "C1", "2000.0000"}, calls[0])
	// 最终更新的是占位消息
	assert.Equal(t, call{"update", "C1", "2000.0000"}, calls[1])
}

func TestServer_AppMentionInBackground(t *testing.T) {
	poster := &fakePoster{}
	srv := newTestServer(t, poster, false)

	resp, err := http.DefaultClient.Do(signedRequest(t, srv.URL+"/slack/events", mentionBody))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Eventually(t, func() bool { return len(poster.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_DropsTimeoutRetry(t *testing.T) {
	for _, reason := range []string{"http_timeout", "http_error"} {
		t.Run(reason, func(t *testing.T) {
			poster := &fakePoster{}
			srv := newTestServer(t, poster, true)

			req := signedRequest(t, srv.URL+"/slack/events", mentionBody)
			req.Header.Set("X-Slack-Retry-Num", "1")
			req.Header.Set("X-Slack-Retry-Reason", reason)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Empty(t, poster.snapshot())
		})
	}
}

func TestServer_ProcessesOtherRetries(t *testing.T) {
	poster := &fakePoster{}
	srv := newTestServer(t, poster, true)

	req := signedRequest(t, srv.URL+"/slack/events", mentionBody)
	req.Header.Set("X-Slack-Retry-Num", "1")
	req.Header.Set("X-Slack-Retry-Reason", "rate_limited")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Len(t, poster.snapshot(), 2)
}

func TestThreadOf(t *testing.T) {
	ev := mentionEvent("1.0", "")
	assert.Equal(t, "1.0", threadOf(ev))
	ev = mentionEvent("2.0", "1.0")
	assert.Equal(t, "1.0", threadOf(ev))
}
