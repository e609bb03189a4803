package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client is a thin Bot API client covering what the dispatcher and
// notifier need: long-poll updates in, plain-text messages out.
type Client struct {
	http  *resty.Client
	token string
}

func NewClient(baseURL, token string) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &Client{http: http, token: token}
}

func (c *Client) method(name string) string {
	return fmt.Sprintf("/bot%s/%s", c.token, name)
}

// GetUpdates long-polls for new updates after offset. The request deadline
// is stretched past the poll timeout so the server can hold the request
// open for the full window.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	rctx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()

	var out apiResponse[[]Update]
	resp, err := c.http.R().
		SetContext(rctx).
		SetQueryParams(map[string]string{
			"offset":  fmt.Sprintf("%d", offset),
			"timeout": fmt.Sprintf("%d", int(timeout.Seconds())),
		}).
		SetResult(&out).
		Get(c.method("getUpdates"))
	if err != nil {
		return nil, err
	}
	if resp.IsError() || !out.OK {
		return nil, fmt.Errorf("getUpdates: status=%d description=%q", resp.StatusCode(), out.Description)
	}
	return out.Result, nil
}

// Send delivers one plain-text message. It satisfies notify.Sender.
func (c *Client) Send(ctx context.Context, chatID int64, text string) error {
	var out apiResponse[json.RawMessage]
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{
			"chat_id": chatID,
			"text":    text,
		}).
		SetResult(&out).
		Post(c.method("sendMessage"))
	if err != nil {
		return err
	}
	if resp.IsError() || !out.OK {
		return fmt.Errorf("sendMessage to %d: status=%d description=%q", chatID, resp.StatusCode(), out.Description)
	}
	return nil
}

// AnswerCallbackQuery acknowledges a pressed button so the client stops
// showing a spinner.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID string) error {
	var out apiResponse[json.RawMessage]
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{"callback_query_id": callbackID}).
		SetResult(&out).
		Post(c.method("answerCallbackQuery"))
	if err != nil {
		return err
	}
	if resp.IsError() || !out.OK {
		return fmt.Errorf("answerCallbackQuery: status=%d description=%q", resp.StatusCode(), out.Description)
	}
	return nil
}
