// Package line talks to the LINE platform: it verifies and decodes webhook
// deliveries and calls the Messaging API for replies, pushes and profile
// lookups. Outbound calls are paced by a token bucket and guarded by a
// circuit breaker.
package line

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/groupguard/groupguard/internal/config"
	"github.com/groupguard/groupguard/internal/telemetry"
)

const (
	defaultAPIBaseURL = "https://api.line.me"
	breakerName       = "line-messaging-api"

	// maxTextRunes is the Messaging API limit for one text message
	maxTextRunes = 5000
	// maxReplyMessages is the Messaging API limit per reply
	maxReplyMessages = 5
	maxErrorBody     = 4096
)

// GroupSummary is the response of the group summary endpoint
type GroupSummary struct {
	GroupID    string `json:"groupId"`
	GroupName  string `json:"groupName"`
	PictureURL string `json:"pictureUrl"`
}

// Profile is a group member's public profile
type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	PictureURL  string `json:"pictureUrl"`
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Client is a Messaging API client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[any]
}

// NewClient builds a client from the LINE settings. It returns
// ErrNotConfigured when the channel access token is missing.
func NewClient(cfg config.LineConfig) (*Client, error) {
	if cfg.ChannelAccessToken == "" {
		return nil, ErrNotConfigured
	}

	baseURL := strings.TrimRight(cfg.APIBaseURL, "/")
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	telemetry.LineCircuitBreakerState.Set(0)
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		// Rejected requests (bad reply token, unknown user) say nothing about platform health.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			return err == nil || (errors.As(err, &apiErr) && apiErr.clientError())
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("LINE API circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			telemetry.LineCircuitBreakerState.Set(stateValue(to))
		},
	})

	return &Client{
		baseURL:    baseURL,
		token:      cfg.ChannelAccessToken,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		breaker:    breaker,
	}, nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// ReplyText answers an event through its reply token. At most five texts are sent.
func (c *Client) ReplyText(ctx context.Context, replyToken string, texts ...string) error {
	if replyToken == "" {
		return fmt.Errorf("reply: empty reply token")
	}
	if len(texts) > maxReplyMessages {
		texts = texts[:maxReplyMessages]
	}
	body := struct {
		ReplyToken string        `json:"replyToken"`
		Messages   []textMessage `json:"messages"`
	}{ReplyToken: replyToken, Messages: textMessages(texts)}
	return c.do(ctx, "reply", http.MethodPost, "/v2/bot/message/reply", body, nil)
}

// PushText sends a text message to a user, group or room id
func (c *Client) PushText(ctx context.Context, to, text string) error {
	if to == "" {
		return fmt.Errorf("push: empty recipient")
	}
	body := struct {
		To       string        `json:"to"`
		Messages []textMessage `json:"messages"`
	}{To: to, Messages: textMessages([]string{text})}
	return c.do(ctx, "push", http.MethodPost, "/v2/bot/message/push", body, nil)
}

// GroupSummary fetches a group's name and picture
func (c *Client) GroupSummary(ctx context.Context, groupID string) (*GroupSummary, error) {
	var out GroupSummary
	path := "/v2/bot/group/" + url.PathEscape(groupID) + "/summary"
	if err := c.do(ctx, "group_summary", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GroupMemberProfile fetches a member's profile within a group
func (c *Client) GroupMemberProfile(ctx context.Context, groupID, userID string) (*Profile, error) {
	var out Profile
	path := "/v2/bot/group/" + url.PathEscape(groupID) + "/member/" + url.PathEscape(userID)
	if err := c.do(ctx, "member_profile", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func textMessages(texts []string) []textMessage {
	msgs := make([]textMessage, 0, len(texts))
	for _, t := range texts {
		msgs = append(msgs, textMessage{Type: "text", Text: truncateRunes(t, maxTextRunes)})
	}
	return msgs
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// do paces, guards and performs one API call, decoding a JSON response into out when non-nil
func (c *Client) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		telemetry.LineAPIRequestsTotal.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("%s: rate limiter: %w", op, err)
	}

	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.send(ctx, op, method, path, in, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		telemetry.LineAPIRequestsTotal.WithLabelValues(op, "open").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}
	return err
}

func (c *Client) send(ctx context.Context, op, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.LineAPIRequestsTotal.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	telemetry.LineAPIRequestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var apiBody struct {
			Message string `json:"message"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &apiBody) == nil && apiBody.Message != "" {
			msg = apiBody.Message
		}
		return fmt.Errorf("%s: %w", op, &APIError{StatusCode: resp.StatusCode, Message: msg})
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
