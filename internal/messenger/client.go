// Package messenger talks to the Messenger Platform: it parses page webhooks
// and sends replies through the Graph API Send API.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MaxTextRunes is the Send API limit for one text message.
const MaxTextRunes = 2000

// ErrMissingToken is returned when no page access token is available.
var ErrMissingToken = errors.New("messenger: missing page access token")

// Client calls the Graph API Send API.
type Client struct {
	baseURL    string
	version    string
	httpClient *http.Client
}

// NewClient creates a Send API client. baseURL defaults to graph.facebook.com.
func NewClient(baseURL, version string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "https://graph.facebook.com"
	}
	if version == "" {
		version = "v20.0"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		version:    version,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type recipient struct {
	ID string `json:"id"`
}

type sendRequest struct {
	Recipient     recipient       `json:"recipient"`
	MessagingType string          `json:"messaging_type,omitempty"`
	Message       *messageContent `json:"message,omitempty"`
	SenderAction  string          `json:"sender_action,omitempty"`
}

type messageContent struct {
	Text string `json:"text"`
}

// SendText sends text to recipientID, split into chunks the API accepts.
func (c *Client) SendText(ctx context.Context, token, recipientID, text string) error {
	for _, chunk := range splitText(text, MaxTextRunes) {
		err := c.post(ctx, token, sendRequest{
			Recipient:     recipient{ID: recipientID},
			MessagingType: "RESPONSE",
			Message:       &messageContent{Text: chunk},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// SendTypingIndicator shows the typing bubble to recipientID.
func (c *Client) SendTypingIndicator(ctx context.Context, token, recipientID string) error {
	return c.post(ctx, token, sendRequest{
		Recipient:    recipient{ID: recipientID},
		SenderAction: "typing_on",
	})
}

func (c *Client) post(ctx context.Context, token string, body sendRequest) error {
	if strings.TrimSpace(token) == "" {
		return ErrMissingToken
	}

	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal send request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/me/messages?access_token=%s", c.baseURL, c.version, url.QueryEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("send api error: status=%d body=%s", resp.StatusCode, string(respBody))
	}
	return nil
}

func splitText(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i] == '\n' || runes[i] == ' ' {
				cut = i
				break
			}
		}
		chunks = append(chunks, strings.TrimSpace(string(runes[:cut])))
		runes = runes[cut:]
	}
	if rest := strings.TrimSpace(string(runes)); rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}
