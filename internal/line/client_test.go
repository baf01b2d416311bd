package line

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupguard/groupguard/internal/config"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(config.LineConfig{
		ChannelAccessToken: "token",
		APIBaseURL:         srv.URL + "/",
		RequestTimeout:     2 * time.Second,
	})
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient(config.LineConfig{ChannelSecret: "s"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestReplyText(t *testing.T) {
	var got struct {
		ReplyToken string `json:"replyToken"`
		Messages   []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"messages"`
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/bot/message/reply", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{}`))
	})

	require.NoError(t, c.ReplyText(context.Background(), "rt", "a", "b", "c", "d", "e", "f"))
	assert.Equal(t, "rt", got.ReplyToken)
	assert.Len(t, got.Messages, 5, "replies are capped at five messages")
	assert.Equal(t, "text", got.Messages[0].Type)

	assert.Error(t, c.ReplyText(context.Background(), ""), "empty reply token")
}

func TestPushText_TruncatesLongText(t *testing.T) {
	var body []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/bot/message/push", r.URL.Path)
		body, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{}`))
	})

	require.NoError(t, c.PushText(context.Background(), "U1", strings.Repeat("あ", 6000)))

	var got struct {
		To       string `json:"to"`
		Messages []struct {
			Text string `json:"text"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "U1", got.To)
	assert.Len(t, []rune(got.Messages[0].Text), maxTextRunes)
}

func TestPushText_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"The request body has 1 error(s)"}`))
	})

	err := c.PushText(context.Background(), "U1", "hi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAPI))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "The request body has 1 error(s)", apiErr.Message)
}

func TestGroupSummaryAndProfile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/v2/bot/group/C1/summary":
			w.Write([]byte(`{"groupId":"C1","groupName":"Hikers","pictureUrl":"https://x"}`))
		case "/v2/bot/group/C1/member/U1":
			w.Write([]byte(`{"userId":"U1","displayName":"Alice"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	s, err := c.GroupSummary(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "Hikers", s.GroupName)

	p, err := c.GroupMemberProfile(ctx, "C1", "U1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.DisplayName)

	_, err = c.GroupMemberProfile(ctx, "C1", "U404")
	assert.ErrorIs(t, err, ErrAPI)
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_ = c.PushText(ctx, "U1", "hi")
	}
	assert.Equal(t, int32(10), calls.Load())

	err := c.PushText(ctx, "U1", "hi")
	require.Error(t, err)
	assert.Equal(t, int32(10), calls.Load(), "open breaker must not reach the server")
	assert.False(t, errors.Is(err, ErrAPI))
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})
	for i := 0; i < 15; i++ {
		_ = c.PushText(context.Background(), "U1", "hi")
	}
	assert.Equal(t, int32(15), calls.Load())
}
