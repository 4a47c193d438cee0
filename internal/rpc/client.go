// Package rpc talks to a PostgREST style endpoint exposing two database
// functions: one returning the catalog listing and one executing SQL.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/querydesk/querydesk/internal/query"
	"github.com/querydesk/querydesk/internal/schema"
)

type Config struct {
	BaseURL        string
	APIKey         string
	SchemaFunction string
	ExecFunction   string
	Timeout        time.Duration
}

type Client struct {
	baseURL        string
	apiKey         string
	schemaFunction string
	execFunction   string
	client         *http.Client
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("rpc base URL is required")
	}
	schemaFunction := strings.TrimSpace(cfg.SchemaFunction)
	if schemaFunction == "" {
		schemaFunction = "get_schema_info"
	}
	execFunction := strings.TrimSpace(cfg.ExecFunction)
	if execFunction == "" {
		execFunction = "execute_sql"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:         strings.TrimSpace(cfg.APIKey),
		schemaFunction: schemaFunction,
		execFunction:   execFunction,
		client:         &http.Client{Timeout: timeout},
	}, nil
}

// FetchColumns calls the catalog function, which returns a JSON array of
// {table_name, column_name, data_type}.
func (c *Client) FetchColumns(ctx context.Context) ([]schema.Column, error) {
	body, err := c.call(ctx, c.schemaFunction, map[string]any{})
	if err != nil {
		return nil, err
	}
	var columns []schema.Column
	if err := json.Unmarshal(body, &columns); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", c.schemaFunction, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%s returned no columns", c.schemaFunction)
	}
	return columns, nil
}

// Execute calls the SQL function with {"query": sql}. The function returns a
// JSON array of row objects.
func (c *Client) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	if strings.TrimSpace(request.SQL) == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	start := time.Now()
	body, err := c.call(ctx, c.execFunction, map[string]any{"query": request.SQL})
	if err != nil {
		var remote *RemoteError
		if errors.As(err, &remote) && remote.StatusCode < 500 {
			return query.Result{}, query.ExecutionFailed(remote)
		}
		return query.Result{}, err
	}

	result, err := decodeRows(body, request.RowLimit)
	if err != nil {
		return query.Result{}, fmt.Errorf("decode %s response: %w", c.execFunction, err)
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (c *Client) call(ctx context.Context, function string, args map[string]any) ([]byte, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal %s arguments: %w", function, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rest/v1/rpc/"+function, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", function, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("apikey", c.apiKey)
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", function, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", function, err)
	}
	if resp.StatusCode >= 400 {
		return nil, newRemoteError(function, resp.StatusCode, body)
	}
	return body, nil
}

// RemoteError is a PostgREST error body.
type RemoteError struct {
	Function   string `json:"-"`
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details"`
	Hint       string `json:"hint"`
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s failed with status %d", e.Function, e.StatusCode)
}

func newRemoteError(function string, status int, body []byte) *RemoteError {
	remote := &RemoteError{}
	if err := json.Unmarshal(body, remote); err != nil || remote.Message == "" {
		remote.Message = strings.TrimSpace(string(body))
	}
	remote.Function = function
	remote.StatusCode = status
	return remote
}
