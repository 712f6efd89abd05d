package sheet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Grid is the raw result of a range fetch: the header row plus the data
// rows, untyped.
type Grid struct {
	Headers []string
	Rows    [][]string
}

// Service is the spreadsheet transport the engine depends on. FetchGrid
// reads a range; BatchUpdate applies a list of requests atomically.
// SheetID resolves a sheet name to its numeric ID within the
// spreadsheet.
type Service interface {
	FetchGrid(ctx context.Context, spreadsheetID, rangeSpec string) (Grid, error)
	BatchUpdate(ctx context.Context, spreadsheetID string, requests []Request) error
	SheetID(ctx context.Context, spreadsheetID, sheetName string) (int64, error)
}

// Fetch reads a named sheet and parses it in one step.
func Fetch(ctx context.Context, svc Service, spreadsheetID, sheetName string) (Sheet, error) {
	grid, err := svc.FetchGrid(ctx, spreadsheetID, RangeSpec(sheetName, 0))
	if err != nil {
		return Sheet{}, fmt.Errorf("fetch sheet %q: %w", sheetName, err)
	}
	return Build(grid.Headers, grid.Rows), nil
}

// AccessTokenProvider supplies a bearer token per request.
type AccessTokenProvider func(ctx context.Context) (string, error)

type HTTPServiceOptions struct {
	BaseURL       string
	TokenProvider AccessTokenProvider
	HTTPClient    *http.Client
	UserAgent     string
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

// HTTPService talks to a Sheets-compatible HTTP API. Transient failures
// (connection errors, 429, 5xx) are retried with exponential delay,
// honoring Retry-After when present.
type HTTPService struct {
	baseURL       string
	tokenProvider AccessTokenProvider
	httpClient    *http.Client
	userAgent     string
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
}

func NewHTTPService(opts HTTPServiceOptions) *HTTPService {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://sheets.googleapis.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &HTTPService{
		baseURL:       baseURL,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		maxRetries:    maxRetries,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
	}
}

func (c *HTTPService) FetchGrid(ctx context.Context, spreadsheetID, rangeSpec string) (Grid, error) {
	path := fmt.Sprintf("/v4/spreadsheets/%s/values/%s", url.PathEscape(spreadsheetID), url.PathEscape(rangeSpec))
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return Grid{}, err
	}
	var parsed struct {
		Values [][]string `json:"values"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Grid{}, fmt.Errorf("decode values response: %w", err)
	}
	if len(parsed.Values) == 0 {
		return Grid{}, nil
	}
	return Grid{Headers: parsed.Values[0], Rows: parsed.Values[1:]}, nil
}

func (c *HTTPService) BatchUpdate(ctx context.Context, spreadsheetID string, requests []Request) error {
	path := fmt.Sprintf("/v4/spreadsheets/%s:batchUpdate", url.PathEscape(spreadsheetID))
	payload := struct {
		Requests []Request `json:"requests"`
	}{Requests: requests}
	_, err := c.do(ctx, http.MethodPost, path, payload)
	return err
}

func (c *HTTPService) SheetID(ctx context.Context, spreadsheetID, sheetName string) (int64, error) {
	path := fmt.Sprintf("/v4/spreadsheets/%s?fields=sheets.properties", url.PathEscape(spreadsheetID))
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	var parsed struct {
		Sheets []struct {
			Properties struct {
				SheetID int64  `json:"sheetId"`
				Title   string `json:"title"`
			} `json:"properties"`
		} `json:"sheets"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("decode spreadsheet response: %w", err)
	}
	for _, s := range parsed.Sheets {
		if strings.EqualFold(strings.TrimSpace(s.Properties.Title), strings.TrimSpace(sheetName)) {
			return s.Properties.SheetID, nil
		}
	}
	return 0, fmt.Errorf("spreadsheet has no sheet %q: %w", sheetName, ErrNotFound)
}

func (c *HTTPService) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("sheet http service is nil")
	}
	var bodyBytes []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		bodyBytes = encoded
	}
	target := c.baseURL + path

	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if bodyBytes != nil {
			reader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, err
		}
		if c.tokenProvider != nil {
			token, tokenErr := c.tokenProvider(ctx)
			if tokenErr != nil {
				return nil, tokenErr
			}
			req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
		}
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, err
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return respBody, nil
		}
		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, waitErr
			}
			continue
		}
		return nil, fmt.Errorf("sheet request failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
}

func (c *HTTPService) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
