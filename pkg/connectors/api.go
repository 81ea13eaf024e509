package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ladleworks/ladle/pkg/engine"
	"github.com/ladleworks/ladle/pkg/recipe"
	"github.com/ladleworks/ladle/pkg/state"
)

const (
	defaultAPITimeout     = 30 * time.Second
	defaultAPIPageSize    = 100
	defaultAPIMaxRetries  = 3
	defaultAPIRetryDelay  = 1.0
	defaultAPIBackoffRate = 2.0
)

// commonDataKeys are tried when a JSON object response has no data_path.
var commonDataKeys = []string{"data", "results", "items", "records"}

// APISource reads rows from a paginated JSON REST API. Requests are retried
// with exponential backoff on timeouts and server errors; client errors
// fail immediately. Rows are buffered per page and handed out in
// engine-sized batches.
type APISource struct {
	cfg recipe.SourceConfig

	client     *http.Client
	headers    http.Header
	pageSize   int
	maxRetries int
	retryDelay time.Duration
	backoff    float64

	page   int
	offset int
	buffer []engine.Row
	done   bool
}

func newAPISource(cfg recipe.SourceConfig) (engine.Source, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("api source requires 'base_url'")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("api source requires 'endpoint'")
	}
	switch cfg.AuthType {
	case "bearer":
		if cfg.AuthToken == "" {
			return nil, fmt.Errorf("api source requires 'auth_token' for bearer auth")
		}
	case "basic":
		if cfg.AuthUsername == "" || cfg.AuthPassword == "" {
			return nil, fmt.Errorf("api source requires 'auth_username' and 'auth_password' for basic auth")
		}
	}
	return &APISource{cfg: cfg}, nil
}

func (s *APISource) Open(_ context.Context, st *state.State) error {
	timeout := defaultAPITimeout
	if s.cfg.Timeout > 0 {
		timeout = time.Duration(s.cfg.Timeout) * time.Second
	}
	s.client = &http.Client{Timeout: timeout}

	s.headers = make(http.Header)
	for k, v := range s.cfg.Headers {
		s.headers.Set(k, v)
	}
	if s.cfg.AuthType == "bearer" {
		s.headers.Set("Authorization", "Bearer "+s.cfg.AuthToken)
	}

	s.pageSize = s.cfg.PageSize
	if s.pageSize == 0 {
		s.pageSize = defaultAPIPageSize
	}
	s.maxRetries = s.cfg.MaxRetries
	if s.maxRetries == 0 {
		s.maxRetries = defaultAPIMaxRetries
	}
	delay := s.cfg.RetryDelay
	if delay == 0 {
		delay = defaultAPIRetryDelay
	}
	s.retryDelay = time.Duration(delay * float64(time.Second))
	s.backoff = s.cfg.BackoffRate
	if s.backoff == 0 {
		s.backoff = defaultAPIBackoffRate
	}

	s.page = 1
	s.offset = 0
	if st != nil {
		if v, ok := st.CursorValue("page"); ok {
			if n, ok := toNumber(v); ok {
				s.page = int(n)
			}
		}
		if v, ok := st.CursorValue("offset"); ok {
			if n, ok := toNumber(v); ok {
				s.offset = int(n)
			}
		}
	}
	return nil
}

func (s *APISource) ReadBatch(ctx context.Context, size int) (*engine.Batch, error) {
	if s.client == nil {
		return nil, fmt.Errorf("api source not opened")
	}

	for len(s.buffer) < size && !s.done {
		if err := s.fetchPage(ctx); err != nil {
			return nil, err
		}
	}

	if len(s.buffer) == 0 {
		return nil, io.EOF
	}

	n := size
	if n > len(s.buffer) {
		n = len(s.buffer)
	}
	rows := s.buffer[:n]
	s.buffer = s.buffer[n:]
	return &engine.Batch{Rows: rows}, nil
}

func (s *APISource) Close() error {
	if s.client != nil {
		s.client.CloseIdleConnections()
		s.client = nil
	}
	return nil
}

// fetchPage requests the next page and appends its rows to the buffer.
func (s *APISource) fetchPage(ctx context.Context) error {
	reqURL, err := s.buildURL()
	if err != nil {
		return engine.NewPermanentError("failed to build request URL", err).
			WithConnector("api").WithOperation("read")
	}

	body, err := s.get(ctx, reqURL)
	if err != nil {
		return err
	}

	var payload interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return engine.NewPermanentError("failed to decode API response", err).
			WithConnector("api").WithOperation("read")
	}

	data, err := extractData(payload, s.cfg.DataPath)
	if err != nil {
		return engine.NewPermanentError("failed to extract data from API response", err).
			WithConnector("api").WithOperation("read")
	}

	if len(data) == 0 {
		s.done = true
		return nil
	}

	for _, item := range data {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return engine.NewPermanentError(
				fmt.Sprintf("API response row is %T, expected object", item), nil).
				WithConnector("api").WithOperation("read")
		}
		s.buffer = append(s.buffer, engine.Row(obj))
	}

	switch s.cfg.PaginationType {
	case "offset":
		s.offset += len(data)
	default:
		s.page++
	}

	// Fewer rows than a full page means the last page was reached.
	if len(data) < s.pageSize {
		s.done = true
	}
	return nil
}

func (s *APISource) buildURL() (string, error) {
	u, err := url.Parse(strings.TrimRight(s.cfg.BaseURL, "/") + s.cfg.Endpoint)
	if err != nil {
		return "", err
	}

	query := u.Query()
	for k, v := range s.cfg.Params {
		query.Set(k, v)
	}

	pageParam := s.cfg.PageParam
	if pageParam == "" {
		pageParam = "page"
	}
	switch s.cfg.PaginationType {
	case "offset":
		query.Set(pageParam, strconv.Itoa(s.offset))
	default:
		query.Set(pageParam, strconv.Itoa(s.page))
	}
	if s.cfg.LimitParam != "" {
		query.Set(s.cfg.LimitParam, strconv.Itoa(s.pageSize))
	}

	u.RawQuery = query.Encode()
	return u.String(), nil
}

// get performs a GET with retry and exponential backoff. Timeouts and 5xx
// responses retry; 4xx responses fail immediately, with 429 classified as
// throttled.
func (s *APISource) get(ctx context.Context, reqURL string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(s.retryDelay) * pow(s.backoff, attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, engine.NewPermanentError("failed to build request", err).
				WithConnector("api").WithOperation("read")
		}
		req.Header = s.headers.Clone()
		if s.cfg.AuthType == "basic" {
			req.SetBasicAuth(s.cfg.AuthUsername, s.cfg.AuthPassword)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = engine.NewThrottledError(
				fmt.Sprintf("API rate limited (attempt %d)", attempt+1), nil).
				WithConnector("api").WithOperation("read")
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error %d", resp.StatusCode)
			continue
		case resp.StatusCode >= 400:
			return nil, engine.NewPermanentError(
				fmt.Sprintf("API client error %d", resp.StatusCode), nil).
				WithConnector("api").WithOperation("read")
		case readErr != nil:
			lastErr = readErr
			continue
		}
		return body, nil
	}

	return nil, engine.NewTransientError(
		fmt.Sprintf("API request failed after %d attempts", s.maxRetries+1), lastErr).
		WithConnector("api").WithOperation("read")
}

// extractData locates the row array in a JSON response. A list response is
// used directly; an object is searched at the dotted data path, or at the
// common wrapper keys when no path is configured.
func extractData(payload interface{}, dataPath string) ([]interface{}, error) {
	if list, ok := payload.([]interface{}); ok {
		return list, nil
	}

	obj, ok := payload.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("response is %T, expected array or object", payload)
	}

	if dataPath == "" {
		for _, key := range commonDataKeys {
			if list, ok := obj[key].([]interface{}); ok {
				return list, nil
			}
		}
		return nil, fmt.Errorf("no data array found; set 'data_path'")
	}

	current := interface{}(obj)
	for _, segment := range strings.Split(dataPath, ".") {
		node, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("data_path %q does not resolve to an array", dataPath)
		}
		current, ok = node[segment]
		if !ok {
			return nil, fmt.Errorf("data_path segment %q not found", segment)
		}
	}

	switch v := current.(type) {
	case []interface{}:
		return v, nil
	case map[string]interface{}:
		for _, key := range commonDataKeys {
			if list, ok := v[key].([]interface{}); ok {
				return list, nil
			}
		}
		return nil, fmt.Errorf("data_path %q resolves to an object without a data array", dataPath)
	default:
		return nil, fmt.Errorf("data_path %q resolves to %T, expected array", dataPath, current)
	}
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
