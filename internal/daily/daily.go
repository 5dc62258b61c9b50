package daily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const DefaultBase = "https://api.daily.co/v1"

type Client interface {
	CreateRoom(ctx context.Context, name, privacy string) error
	CreateMeetingToken(ctx context.Context, roomName, userName string, exp int64) (string, error)
	DeleteRoom(ctx context.Context, name string) error
}

type HTTPClient struct {
	http   *http.Client
	apiKey string
	base   string
}

func NewClient(apiKey string) *HTTPClient {
	return NewClientWithBase(apiKey, DefaultBase)
}

func NewClientWithBase(apiKey, base string) *HTTPClient {
	return &HTTPClient{
		http:   &http.Client{Timeout: 15 * time.Second},
		apiKey: apiKey,
		base:   base,
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		var out bytes.Buffer
		if err := json.NewEncoder(&out).Encode(body); err != nil {
			return nil, err
		}
		rdr = &out
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

func (c *HTTPClient) CreateRoom(ctx context.Context, name, privacy string) error {
	resp, err := c.do(ctx, http.MethodPost, "/rooms", map[string]any{
		"name":    name,
		"privacy": privacy,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("daily CreateRoom: %s: %s", resp.Status, string(b))
	}
	return nil
}

func (c *HTTPClient) CreateMeetingToken(ctx context.Context, roomName, userName string, exp int64) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/meeting-tokens", map[string]any{
		"properties": map[string]any{
			"room_name": roomName,
			"user_name": userName,
			"exp":       exp,
		},
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("daily CreateMeetingToken: %s: %s", resp.Status, string(b))
	}
	var parsed struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if parsed.Token == "" {
		return "", fmt.Errorf("daily CreateMeetingToken: empty token")
	}
	return parsed.Token, nil
}

// DeleteRoom removes the room and disconnects every participant. A room that
// is already gone counts as deleted.
func (c *HTTPClient) DeleteRoom(ctx context.Context, name string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/rooms/"+url.PathEscape(name), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("daily DeleteRoom: %s: %s", resp.Status, string(b))
	}
	return nil
}
