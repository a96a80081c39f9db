package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const barkGroup = "taskcron"

// BarkNotifier pushes to a Bark device. The URL includes the device key,
// e.g. https://api.day.app/<key>.
type BarkNotifier struct {
	pushURL string
	client  *http.Client
}

type barkPush struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Group string `json:"group"`
	Level string `json:"level"`
}

type barkReply struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewBarkNotifier(pushURL string) (*BarkNotifier, error) {
	pushURL = strings.TrimRight(strings.TrimSpace(pushURL), "/")
	if pushURL == "" {
		return nil, fmt.Errorf("bark url is empty")
	}
	return &BarkNotifier{
		pushURL: pushURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Send posts a time-sensitive push so failures break through focus modes.
func (b *BarkNotifier) Send(ctx context.Context, title, body string) error {
	payload, err := json.Marshal(barkPush{
		Title: title,
		Body:  body,
		Group: barkGroup,
		Level: "timeSensitive",
	})
	if err != nil {
		return fmt.Errorf("encode bark push: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.pushURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create bark request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("send bark push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("bark returned status %d", resp.StatusCode)
	}
	// Older Bark servers answer with an empty body.
	var reply barkReply
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&reply); err != nil {
		return nil
	}
	if reply.Code != 0 && reply.Code != http.StatusOK {
		return fmt.Errorf("bark rejected push: %d %s", reply.Code, reply.Message)
	}
	return nil
}
