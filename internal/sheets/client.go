package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"

	"sheetwise/internal/config"
	"sheetwise/internal/resilience"
)

// Row is one spreadsheet row restricted to the requested fields.
type Row struct {
	ID     string            `json:"id"`
	Values map[string]string `json:"values"`
}

// CellUpdate writes one value into one cell.
type CellUpdate struct {
	RowID string `json:"row_id"`
	Field string `json:"field"`
	Value string `json:"value"`
}

// Client is the spreadsheet service surface the scheduler consumes.
type Client interface {
	RowCount(ctx context.Context, sheetID string) (int, error)
	FetchRows(ctx context.Context, sheetID string, fields []string, offset, limit int) ([]Row, error)
	ApplyCellUpdates(ctx context.Context, sheetID string, updates []CellUpdate) error
}

// HTTPClient talks to the spreadsheet service over its REST API.
type HTTPClient struct {
	http    *resty.Client
	baseURL string
}

// NewHTTPClient creates a client with sensible defaults.
func NewHTTPClient(cfg config.SheetsConfig) *HTTPClient {
	r := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.Token != "" {
		r.SetAuthToken(cfg.Token)
	}
	return &HTTPClient{
		http:    r,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

type sheetMeta struct {
	RowCount int `json:"row_count"`
}

func (c *HTTPClient) RowCount(ctx context.Context, sheetID string) (int, error) {
	var meta sheetMeta
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&meta).
		Get(c.baseURL + "/sheets/" + sheetID)
	if err := normalizeError(resp, err); err != nil {
		return 0, fmt.Errorf("fetch sheet %s: %w", sheetID, err)
	}
	return meta.RowCount, nil
}

type rowsPage struct {
	Rows []Row `json:"rows"`
}

func (c *HTTPClient) FetchRows(ctx context.Context, sheetID string, fields []string, offset, limit int) ([]Row, error) {
	var page rowsPage
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"offset": fmt.Sprintf("%d", offset),
			"limit":  fmt.Sprintf("%d", limit),
			"fields": strings.Join(fields, ","),
		}).
		SetResult(&page).
		Get(c.baseURL + "/sheets/" + sheetID + "/rows")
	if err := normalizeError(resp, err); err != nil {
		return nil, fmt.Errorf("fetch rows of sheet %s: %w", sheetID, err)
	}
	return page.Rows, nil
}

func (c *HTTPClient) ApplyCellUpdates(ctx context.Context, sheetID string, updates []CellUpdate) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"updates": updates}).
		Post(c.baseURL + "/sheets/" + sheetID + "/cells:batchUpdate")
	if err := normalizeError(resp, err); err != nil {
		return fmt.Errorf("apply %d cell updates to sheet %s: %w", len(updates), sheetID, err)
	}
	return nil
}

// normalizeError maps transport failures and HTTP statuses onto the shared
// error taxonomy so the resilience layer can classify them.
func normalizeError(resp *resty.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return resilience.ErrTimeout
		}
		return fmt.Errorf("%w: %v", resilience.ErrUnavailable, err)
	}
	if resp == nil {
		return resilience.ErrUnavailable
	}

	code := resp.StatusCode()
	switch {
	case code < 400:
		return nil
	case code == http.StatusTooManyRequests:
		return resilience.ErrRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return resilience.ErrUnauthorized
	case code == http.StatusNotFound:
		return resilience.ErrNotFound
	case code == http.StatusConflict || code == http.StatusLocked:
		return resilience.ErrBusy
	case code >= 500:
		return fmt.Errorf("%w: status %d", resilience.ErrUnavailable, code)
	default:
		return fmt.Errorf("%w: status %d", resilience.ErrInvalidInput, code)
	}
}

var _ Client = (*HTTPClient)(nil)
