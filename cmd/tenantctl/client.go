package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type tenantClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newClient() *tenantClient {
	return &tenantClient{
		baseURL: serverURL,
		token:   resolvedToken(),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError is a non-2xx response from the server.
type apiError struct {
	Status   int
	Message  string
	Required json.RawMessage
}

func (e *apiError) Error() string {
	if len(e.Required) > 0 {
		return fmt.Sprintf("server returned %d: %s (requires %s)", e.Status, e.Message, string(e.Required))
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *tenantClient) getJSON(path string, v any) error {
	return c.do(http.MethodGet, path, nil, v)
}

func (c *tenantClient) postJSON(path string, body, v any) error {
	return c.do(http.MethodPost, path, body, v)
}

func (c *tenantClient) delete(path string) error {
	return c.do(http.MethodDelete, path, nil, nil)
}

// do sends a request with an optional JSON body and decodes a JSON response
// into v when v is non-nil.
func (c *tenantClient) do(method, path string, body, v any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("request creation failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if v == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode error: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)
	var body struct {
		Error    string          `json:"error"`
		Required json.RawMessage `json:"required"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		return &apiError{Status: resp.StatusCode, Message: string(bytes.TrimSpace(raw))}
	}
	return &apiError{Status: resp.StatusCode, Message: body.Error, Required: body.Required}
}
