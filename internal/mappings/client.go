// Package mappings talks to the external pattern-detection collaborator that
// suggests candidate field mappings for a source extract. Suggestions are
// untrusted input: the migration still validates every routed value field by
// field before load.
package mappings

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"migration-engine/internal/models"
)

// Client is an HTTP client for the mapping-suggestion service.
type Client struct {
	baseURL string
	http    *resty.Client
}

func NewClient(baseURL, apiToken string, timeout time.Duration) *Client {
	c := resty.New().
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == 429 || (r.StatusCode() >= 500 && r.StatusCode() <= 504)
		})
	if apiToken != "" {
		c.SetAuthToken(apiToken)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    c,
	}
}

// suggestionResponse is the collaborator's wire shape.
type suggestionResponse struct {
	Mappings []models.FieldMapping `json:"mappings"`
}

// Suggestions fetches the ordered candidate mappings for a source extract.
func (c *Client) Suggestions(ctx context.Context, sourceSystem, sourceFile string) ([]models.FieldMapping, error) {
	var out suggestionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"source_system": sourceSystem,
			"source_file":   sourceFile,
		}).
		SetResult(&out).
		Get(c.baseURL + "/v1/mapping-suggestions")
	if err != nil {
		return nil, fmt.Errorf("fetch mapping suggestions: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("mapping suggestions: %s returned %s", c.baseURL, resp.Status())
	}
	return out.Mappings, nil
}

// recordsResponse is the record-source wire shape.
type recordsResponse struct {
	Records []models.Record `json:"records"`
}

// Records fetches the half-open source row range [start, end) of an extract
// from the record-source collaborator. Workers use this to load their claimed
// row range without holding the whole extract.
func (c *Client) Records(ctx context.Context, sourceSystem, sourceFile string, start, end int) ([]models.Record, error) {
	var out recordsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"source_system": sourceSystem,
			"source_file":   sourceFile,
			"start":         strconv.Itoa(start),
			"end":           strconv.Itoa(end),
		}).
		SetResult(&out).
		Get(c.baseURL + "/v1/records")
	if err != nil {
		return nil, fmt.Errorf("fetch source records: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("source records: %s returned %s", c.baseURL, resp.Status())
	}
	return out.Records, nil
}

// ReportResult posts the final migration outcome back to the collaborator so
// its suggestion quality can be tracked.
func (c *Client) ReportResult(ctx context.Context, result any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(result).
		Post(c.baseURL + "/v1/migration-results")
	if err != nil {
		return fmt.Errorf("report migration result: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("report migration result: %s returned %s", c.baseURL, resp.Status())
	}
	return nil
}
