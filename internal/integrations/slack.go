package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hubenschmidt/livesession/internal/tools"
)

const SlackPostURL = "https://slack.com/api/chat.postMessage"

var ErrSlackDisabled = errors.New("slack not configured")

// Slack posts messages to one channel with a bot token.
type Slack struct {
	token   string
	channel string
	url     string
	client  *http.Client
}

func NewSlack(token, channel string, client *http.Client) *Slack {
	if client == nil {
		client = http.DefaultClient
	}
	return &Slack{token: token, channel: channel, url: SlackPostURL, client: client}
}

func (s *Slack) Enabled() bool { return s != nil && s.token != "" && s.channel != "" }

func (s *Slack) Tools() []tools.Tool {
	return []tools.Tool{{Name: "send_slack_message", Shape: tools.Sync, Handler: s.handle}}
}

// Send posts text to the configured channel.
func (s *Slack) Send(ctx context.Context, text string) error {
	if !s.Enabled() {
		return ErrSlackDisabled
	}
	body, _ := json.Marshal(map[string]string{"channel": s.channel, "text": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("slack read: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack post: status %d", resp.StatusCode)
	}
	if r := gjson.ParseBytes(data); !r.Get("ok").Bool() {
		return fmt.Errorf("slack post: %s", r.Get("error").String())
	}
	return nil
}

// SendAsync delivers text in the background, logging failures.
func (s *Slack) SendAsync(ctx context.Context, text string) {
	if !s.Enabled() {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := s.Send(ctx, text); err != nil {
			slog.Warn("slack delivery failed", "error", err)
		}
	}()
}

func (s *Slack) handle(ctx context.Context, args tools.Args) (tools.Result, error) {
	if !s.Enabled() {
		return tools.Text("Slack is not configured. Set SLACK_BOT_TOKEN and SLACK_CHANNEL_ID."), nil
	}
	s.SendAsync(ctx, args.String("message"))
	return tools.Text("Message sent to Slack."), nil
}
