// Package source implements the remote message source the cache fetches
// from: the Source interface lives in the cache package, the HTTP client
// and the in-memory fake for tests live here.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/mailvault/mailvault/internal/cache"
	"github.com/mailvault/mailvault/internal/core"
)

// APIError is returned when the remote API returns an error response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Client is the HTTP wrapper around the remote message API. It implements
// cache.Source.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

const clientMaxRetries = 3

// NewClient creates a new API client for the given base URL.
func NewClient(baseURL, apiKey string, logger zerolog.Logger) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 300 * time.Second,
		},
		log: logger.With().Str("component", "source").Logger(),
	}
}

// Search returns the ids of messages in [start, end] matching q, filtered
// server-side.
func (c *Client) Search(ctx context.Context, start, end time.Time, q cache.Query) ([]string, error) {
	params := url.Values{}
	params.Set("start", core.FormatDate(start))
	params.Set("end", core.FormatDate(end))
	if q.FromSender != "" {
		params.Set("from", q.FromSender)
	}
	if q.SubjectContains != "" {
		params.Set("subject", q.SubjectContains)
	}
	if q.SubjectExcludes != "" {
		params.Set("subject_not", q.SubjectExcludes)
	}
	if q.InFolder != "" {
		params.Set("folder", q.InFolder)
	}
	if q.HasAttachment != nil {
		params.Set("has_attachment", strconv.FormatBool(*q.HasAttachment))
	}
	if q.IsUnread != nil {
		params.Set("is_unread", strconv.FormatBool(*q.IsUnread))
	}
	if q.IsImportant != nil {
		params.Set("is_important", strconv.FormatBool(*q.IsImportant))
	}
	if q.IsStarred != nil {
		params.Set("is_starred", strconv.FormatBool(*q.IsStarred))
	}
	if q.MaxResults > 0 {
		params.Set("limit", strconv.Itoa(q.MaxResults))
	}

	var payload struct {
		Data struct {
			MessageIDs []string `json:"message_ids"`
		} `json:"data"`
	}
	if err := c.get(ctx, "messages/search", params, &payload); err != nil {
		return nil, err
	}
	return payload.Data.MessageIDs, nil
}

// Fetch retrieves full messages by id. A failing id is skipped; the
// returned slice may be shorter than ids, with the failures joined into the
// returned error.
func (c *Client) Fetch(ctx context.Context, ids []string) ([]*cache.Record, error) {
	records := make([]*cache.Record, 0, len(ids))
	var errs []error

	for _, id := range ids {
		var rec cache.Record
		if err := c.get(ctx, "messages/"+url.PathEscape(id), nil, &rec); err != nil {
			c.log.Warn().Err(err).Str("id", id).Msg("fetch failed for message")
			errs = append(errs, fmt.Errorf("fetch %s: %w", id, err))
			continue
		}
		records = append(records, &rec)
	}
	return records, errors.Join(errs...)
}

// get performs a GET request and decodes the JSON payload into out.
// Retries automatically on HTTP 5xx or 429 responses with exponential
// back-off, honoring Retry-After.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	urlStr := fmt.Sprintf("%s/%s", c.baseURL, endpoint)
	if len(params) > 0 {
		urlStr = fmt.Sprintf("%s?%s", urlStr, params.Encode())
	}
	c.log.Debug().Str("url", urlStr).Msg("GET")

	var lastErr error
	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("X-API-Key", c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < clientMaxRetries && ctx.Err() == nil {
				wait := time.Duration(1<<(attempt-1)) * time.Second
				c.log.Debug().Int("attempt", attempt).Dur("wait", wait).Msg("connection error, retrying")
				time.Sleep(wait)
				continue
			}
			return fmt.Errorf("request failed: %w", lastErr)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			lastErr = &APIError{StatusCode: resp.StatusCode, Message: string(body)}
			if attempt < clientMaxRetries {
				wait := time.Duration(1<<(attempt-1)) * time.Second
				if resp.StatusCode == http.StatusTooManyRequests {
					if ra := resp.Header.Get("Retry-After"); ra != "" {
						if secs, err := strconv.Atoi(ra); err == nil {
							wait = time.Duration(secs) * time.Second
						}
					}
				}
				c.log.Debug().Int("attempt", attempt).Int("status", resp.StatusCode).Dur("wait", wait).Msg("retrying")
				time.Sleep(wait)
				continue
			}
			return lastErr
		}

		if resp.StatusCode >= 400 {
			return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to parse JSON response: %w", err)
		}
		return nil
	}
}
