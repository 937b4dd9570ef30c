// Package mcp is a minimal JSON-RPC 2.0 client for a web MCP server that
// can list a page's links and click elements on it.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tjfontaine/feedfilter/internal/config"
)

const (
	DefaultTimeout = 10 * time.Second

	ToolLinks = "scraping_browser_links"
	ToolClick = "scraping_browser_click"
)

// ErrDisabled is returned by every call on a client without an endpoint.
var ErrDisabled = errors.New("mcp locator not configured")

// TargetPhrases are matched case-insensitively against link text when
// looking for a "not interested" control.
var TargetPhrases = []string{
	"not interested",
	"don't recommend",
	"hide",
	"not interested in this",
	"dont recommend",
}

type rpcRequest struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      int64      `json:"id"`
	Method  string     `json:"method"`
	Params  toolParams `json:"params"`
}

type toolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// ToolResult is the result of tools/call.
type ToolResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// ContentItem is one entry of a tool result. Link listings carry Text and
// Selector directly; generic servers wrap them as a JSON text item.
type ContentItem struct {
	Type     string `json:"type,omitempty"`
	Text     string `json:"text"`
	Selector string `json:"selector,omitempty"`
}

// Link is a clickable element on the page.
type Link struct {
	Text     string `json:"text"`
	Selector string `json:"selector"`
}

// Client calls tools on an MCP server over HTTP. A Client with an empty
// endpoint is valid and disabled.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
	nextID     atomic.Int64
}

// New returns a client for cfg. httpClient may be nil.
func New(cfg config.MCPConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		timeout:    timeout,
	}
}

// Enabled reports whether an endpoint is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.endpoint != ""
}

// CallTool invokes name with args. Each call is bounded by the client
// timeout. A tool result flagged isError is returned as an error.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	if args == nil {
		args = map[string]any{}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  "tools/call",
		Params:  toolParams{Name: name, Arguments: args},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s: http %d: %s", name, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("%s: failed to decode response: %w", name, err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("%s: %w", name, rpcResp.Error)
	}

	var result ToolResult
	if len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
			return nil, fmt.Errorf("%s: failed to decode result: %w", name, err)
		}
	}
	if result.IsError {
		return nil, fmt.Errorf("%s: tool reported an error: %s", name, result.text())
	}
	return &result, nil
}

func (r *ToolResult) text() string {
	parts := make([]string, 0, len(r.Content))
	for _, item := range r.Content {
		parts = append(parts, item.Text)
	}
	return strings.Join(parts, " ")
}

// Links lists the clickable elements of url.
func (c *Client) Links(ctx context.Context, url string) ([]Link, error) {
	result, err := c.CallTool(ctx, ToolLinks, map[string]any{"url": url})
	if err != nil {
		return nil, err
	}

	var links []Link
	for _, item := range result.Content {
		if item.Selector != "" {
			links = append(links, Link{Text: item.Text, Selector: item.Selector})
			continue
		}
		text := strings.TrimSpace(item.Text)
		if strings.HasPrefix(text, "[") {
			var nested []Link
			if err := json.Unmarshal([]byte(text), &nested); err == nil {
				links = append(links, nested...)
			}
		}
	}
	return links, nil
}

// Click clicks selector on url.
func (c *Client) Click(ctx context.Context, url, selector string) error {
	_, err := c.CallTool(ctx, ToolClick, map[string]any{"url": url, "selector": selector})
	return err
}

// FindNotInterested returns the first link on url whose text contains a
// target phrase. found is false when the page has no such link.
func (c *Client) FindNotInterested(ctx context.Context, url string) (link Link, found bool, err error) {
	links, err := c.Links(ctx, url)
	if err != nil {
		return Link{}, false, err
	}
	for _, l := range links {
		if l.Selector == "" {
			continue
		}
		text := strings.ToLower(l.Text)
		for _, phrase := range TargetPhrases {
			if strings.Contains(text, phrase) {
				return l, true, nil
			}
		}
	}
	return Link{}, false, nil
}
