// Package fetcher provides the shared outbound download clients for bulk
// data: HTTPS with retries and per-host rate limits, and anonymous FTP for
// the Census mirror. Road tile fetches do not go through this package; they
// use a plain client so every attempt stays visible to the circuit breaker.
package fetcher

import (
	"context"
	"io"
)

// Fetcher downloads remote files. Implemented by HTTPFetcher and FTPFetcher.
type Fetcher interface {
	// Download fetches the URL and returns the response body. The caller
	// must close the reader.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path.
	// Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}
