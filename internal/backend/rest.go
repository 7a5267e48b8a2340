package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const restPathPrefix = "/rest/v1"

// restClient talks to a PostgREST-compatible backend (hosted tenants).
type restClient struct {
	baseURL string
	apiKey  string
	logger  *slog.Logger
	http    *http.Client
}

func newRESTClient(log *slog.Logger, creds Credentials, timeout time.Duration) *restClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &restClient{
		baseURL: strings.TrimRight(creds.URL, "/"),
		apiKey:  creds.Key(),
		logger:  log.With(slog.String("client", "rest")),
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *restClient) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	endpoint := c.tableURL(table, q.encode())
	return c.do(ctx, http.MethodGet, endpoint, nil, nil)
}

func (c *restClient) Insert(ctx context.Context, table string, rows ...Row) ([]Row, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	endpoint := c.tableURL(table, nil)
	headers := map[string]string{"Prefer": "return=representation"}
	return c.do(ctx, http.MethodPost, endpoint, rows, headers)
}

func (c *restClient) Update(ctx context.Context, table string, q Query, changes Row) ([]Row, error) {
	endpoint := c.tableURL(table, q.encode())
	headers := map[string]string{"Prefer": "return=representation"}
	return c.do(ctx, http.MethodPatch, endpoint, changes, headers)
}

func (c *restClient) Delete(ctx context.Context, table string, q Query) error {
	endpoint := c.tableURL(table, q.encode())
	_, err := c.do(ctx, http.MethodDelete, endpoint, nil, nil)
	return err
}

func (c *restClient) RPC(ctx context.Context, name string, args map[string]any) ([]Row, error) {
	endpoint := c.baseURL + restPathPrefix + "/rpc/" + url.PathEscape(name)
	if args == nil {
		args = map[string]any{}
	}
	return c.do(ctx, http.MethodPost, endpoint, args, nil)
}

func (c *restClient) tableURL(table string, params url.Values) string {
	endpoint := c.baseURL + restPathPrefix + "/" + url.PathEscape(table)
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	return endpoint
}

func (c *restClient) do(ctx context.Context, method, endpoint string, body any, headers map[string]string) ([]Row, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("backend rest: marshal body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("backend rest: build request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend rest: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("backend rest: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("backend request failed",
			slog.String("method", method),
			slog.Int("status", resp.StatusCode),
		)
		return nil, fmt.Errorf("backend rest: %s returned %d: %s", method, resp.StatusCode, truncateBody(payload))
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, nil
	}

	// PostgREST returns either an array or a single object.
	trimmed := bytes.TrimSpace(payload)
	if trimmed[0] == '[' {
		var rows []Row
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, fmt.Errorf("backend rest: decode rows: %w", err)
		}
		return rows, nil
	}
	var row Row
	if err := json.Unmarshal(trimmed, &row); err != nil {
		// Scalar RPC results (counts, booleans) come back bare.
		var scalar any
		if scalarErr := json.Unmarshal(trimmed, &scalar); scalarErr == nil {
			return []Row{{"result": scalar}}, nil
		}
		return nil, fmt.Errorf("backend rest: decode row: %w", err)
	}
	return []Row{row}, nil
}

func truncateBody(payload []byte) string {
	const max = 256
	if len(payload) > max {
		return string(payload[:max]) + "..."
	}
	return string(payload)
}
