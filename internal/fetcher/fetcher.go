// Package fetcher issues rate-limited HTTP requests against a throttled API.
package fetcher

import "context"

// Poster sends a JSON query and returns the raw response payload.
type Poster interface {
	// PostJSON marshals body, posts it to url and returns the response body.
	// Non-2xx responses are errors; a persistent 429 yields ErrThrottled.
	PostJSON(ctx context.Context, url string, body any) ([]byte, error)
}

var _ Poster = (*HTTPFetcher)(nil)
