package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxBytes     = 10 * 1024 * 1024
	DefaultMaxRedirects = 5
)

// NetworkError reports a failed transfer: transport errors, timeouts and
// non-2xx responses.
type NetworkError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Message    string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Message, e.URL)
	}
	return fmt.Sprintf("%s: %s: %v", e.Message, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the transfer failed because a deadline passed.
func (e *NetworkError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

var (
	errTooManyRedirects  = errors.New("too many redirects")
	errRedirectBadScheme = errors.New("redirect target scheme is not http/https")
	errTooLarge          = errors.New("response body too large")
)

// Client downloads subscription documents and release artifacts.
// The zero value is usable.
type Client struct {
	Timeout      time.Duration // whole request, including the body
	MaxBytes     int64         // Fetch only; Download is unbounded
	MaxRedirects int
	UserAgent    string
	// Transport defaults to http.DefaultTransport.
	Transport http.RoundTripper
}

// Fetch returns the body of a successful GET of rawURL.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	maxBytes := c.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	resp, cancel, err := c.get(ctx, rawURL, c.timeout())
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer resp.Body.Close()

	// Read at most maxBytes+1 to detect overflow deterministically.
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, &NetworkError{URL: rawURL, StatusCode: resp.StatusCode, Message: "failed to read response", Err: err}
	}
	if int64(len(body)) > maxBytes {
		return nil, &NetworkError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("response larger than %d bytes", maxBytes),
			Err:        errTooLarge,
		}
	}
	return body, nil
}

// Download streams the body of rawURL into w and returns the number of
// bytes written.
func (c *Client) Download(ctx context.Context, rawURL string, w io.Writer) (int64, error) {
	resp, cancel, err := c.get(ctx, rawURL, c.timeout())
	if err != nil {
		return 0, err
	}
	defer cancel()
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, &NetworkError{URL: rawURL, StatusCode: resp.StatusCode, Message: "download interrupted", Err: err}
	}
	return n, nil
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// get performs the request and checks the status. On success the caller
// owns resp.Body and must call cancel once the body has been consumed.
func (c *Client) get(ctx context.Context, rawURL string, timeout time.Duration) (*http.Response, context.CancelFunc, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, nil, &NetworkError{URL: rawURL, Message: "only http and https URLs are supported", Err: err}
	}

	maxRedirects := c.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}
	transport := c.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return errTooManyRedirects
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return errRedirectBadScheme
			}
			return nil
		},
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, nil, &NetworkError{URL: rawURL, Message: "invalid request", Err: err}
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		msg := "request failed"
		switch {
		case errors.Is(err, errTooManyRedirects):
			msg = fmt.Sprintf("more than %d redirects", maxRedirects)
		case errors.Is(err, errRedirectBadScheme):
			msg = "redirect to a non-http URL"
		case errors.Is(err, context.DeadlineExceeded):
			msg = "request timed out"
		}
		return nil, nil, &NetworkError{URL: rawURL, Message: msg, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return nil, nil, &NetworkError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}
	return resp, cancel, nil
}
