package chainexport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

const (
	defaultFetchTimeout     = 30 * time.Second
	defaultFetchMaxAttempts = 3
	defaultFetchBackoff     = time.Second
)

// FetcherConfig is used to construct a new JSONFetcher.
type FetcherConfig struct {
	// BaseURL is prefixed to every request path.
	BaseURL string

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// MaxAttempts is the number of tries per request. Network errors, 429
	// and 5xx responses are retried; other statuses fail immediately.
	MaxAttempts int

	// Backoff is multiplied by the attempt number between retries. Defaults
	// to one second.
	Backoff time.Duration

	// Header is added to every request.
	Header http.Header

	// Client overrides the HTTP client, mostly for tests.
	Client *http.Client
}

// JSONFetcher retrieves JSON documents from a chain API over HTTP. It owns
// the retry policy so that callers only ever see unrecovered failures.
type JSONFetcher struct {
	baseURL     string
	httpClient  *http.Client
	header      http.Header
	maxAttempts int
	backoff     time.Duration
}

// NewJSONFetcher constructs a JSONFetcher, filling in defaults for unset
// fields of cfg.
func NewJSONFetcher(cfg FetcherConfig) *JSONFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultFetchTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultFetchMaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultFetchBackoff
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &JSONFetcher{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  client,
		header:      cfg.Header,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
	}
}

// Get requests path with the given query and returns the parsed body. Failed
// requests return a *FetchError; a body that is not JSON returns a
// *MalformedInputError.
func (f *JSONFetcher) Get(ctx context.Context, path string, query url.Values) (gjson.Result, error) {
	target := f.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var lastErr *FetchError
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return gjson.Result{}, &FetchError{Target: target, Err: ctx.Err()}
			case <-time.After(time.Duration(attempt-1) * f.backoff):
			}
		}

		body, status, err := f.do(ctx, target)
		if err == nil {
			if !gjson.ValidBytes(body) {
				return gjson.Result{}, NewMalformedInputError("",
					fmt.Sprintf("response from %s is not valid JSON", target), nil)
			}
			return gjson.ParseBytes(body), nil
		}

		lastErr = &FetchError{Target: target, StatusCode: status, Err: err}
		if !retryable(ctx, status) {
			break
		}
		log.Debugf("Attempt %d/%d for %s failed: %v", attempt, f.maxAttempts,
			target, err)
	}
	return gjson.Result{}, lastErr
}

func (f *JSONFetcher) do(ctx context.Context, target string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range f.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, 0, errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, errors.Wrap(err, "read body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, errors.Errorf("unexpected status: %s",
			strings.TrimSpace(truncate(string(body), 256)))
	}
	return body, resp.StatusCode, nil
}

func retryable(ctx context.Context, status int) bool {
	if ctx.Err() != nil {
		return false
	}
	return status == 0 || status == http.StatusTooManyRequests ||
		status >= http.StatusInternalServerError
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
