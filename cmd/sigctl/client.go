package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	httpapi "github.com/fyrsmithlabs/signald/internal/http"
)

// client talks to the signald HTTP API.
type client struct {
	base string
	http *http.Client
}

func newClient() *client {
	return &client{
		base: strings.TrimRight(serverURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// do sends the request and returns the raw response body of a 200 answer.
func (c *client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := sonic.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	url := c.base + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr httpapi.ErrorResponse
		if sonic.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// call performs the request and decodes a 200 answer into T.
func call[T any](ctx context.Context, c *client, method, path string, body any) (T, []byte, error) {
	var out T
	data, err := c.do(ctx, method, path, body)
	if err != nil {
		return out, nil, err
	}
	if err := sonic.Unmarshal(data, &out); err != nil {
		return out, nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, data, nil
}
