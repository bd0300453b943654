package strategy

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/assetcache/assetcache/pkg/errors"
	"github.com/assetcache/assetcache/pkg/types"
)

// HTTPFetcher fetches resources from the origin over HTTP and captures the
// full response.
type HTTPFetcher struct {
	client *http.Client
	base   *url.URL
}

// NewHTTPFetcher creates a fetcher resolving paths against the origin URL.
func NewHTTPFetcher(origin string, timeout time.Duration) (*HTTPFetcher, error) {
	base, err := url.Parse(origin)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid origin url").
			WithComponent("fetcher")
	}
	return &HTTPFetcher{
		client: &http.Client{Timeout: timeout},
		base:   base,
	}, nil
}

// Fetch retrieves the resource at the given URL (absolute, or a path
// resolved against the origin) and captures status, headers and body.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*types.CapturedResponse, error) {
	ref, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeFetchFailed, "invalid resource url").
			WithComponent("fetcher").WithContext("url", rawURL)
	}
	target := f.base.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeFetchFailed, "build request").
			WithComponent("fetcher").WithContext("url", rawURL)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		code := errors.ErrCodeFetchFailed
		if ctx.Err() == context.DeadlineExceeded {
			code = errors.ErrCodeFetchTimeout
		}
		return nil, errors.Wrap(err, code, "fetch resource").
			WithComponent("fetcher").WithContext("url", rawURL)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeFetchFailed, "read response body").
			WithComponent("fetcher").WithContext("url", rawURL)
	}

	return &types.CapturedResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		CapturedAt: time.Now(),
	}, nil
}
