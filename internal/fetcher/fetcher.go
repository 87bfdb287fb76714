// Package fetcher downloads result pages from financial portals.
package fetcher

import "context"

// Fetcher returns the body of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}
