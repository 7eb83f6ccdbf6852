// Package fetch downloads remote configuration text for import.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"github.com/kingzvpn/client/common"
)

// Error codes carried by NetworkError.
const (
	CodeInvalidURL = "INVALID_URL"
	CodeFailed     = "FETCH_FAILED"
	CodeTimeout    = "FETCH_TIMEOUT"
	CodeTooLarge   = "TOO_LARGE"
	CodeBadStatus  = "BAD_STATUS"
)

const readChunkSize = 32 * 1024

// Options tunes a single fetch. Zero values select the defaults.
type Options struct {
	Timeout      time.Duration // default 30s
	MaxBytes     int64         // default 1 MiB
	MaxRedirects int           // default 5
	MaxChars     int           // default 50000
	ProxyURL     string        // optional, e.g. socks5://127.0.0.1:1080
}

// NetworkError reports a failed fetch. It matches common.ErrNetwork.
type NetworkError struct {
	URL    string
	Code   string
	Status int
	Cause  error
}

func (e *NetworkError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Code, e.URL)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// Is matches common.ErrNetwork.
func (e *NetworkError) Is(target error) bool {
	return target == common.ErrNetwork
}

var (
	errTooManyRedirects  = errors.New("too many redirects")
	errRedirectBadScheme = errors.New("redirect target scheme is not http/https")
)

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = common.FetchTimeout
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = common.FetchMaxBytes
	}
	if o.MaxRedirects <= 0 {
		o.MaxRedirects = 5
	}
	if o.MaxChars <= 0 {
		o.MaxChars = common.MaxDecodedChars
	}
	return o
}

// FetchText performs an HTTP GET and returns the body as text. The body is
// read in chunks and the transfer is aborted once it exceeds MaxBytes.
// Invalid UTF-8 is dropped and the result is cut to MaxChars characters.
func FetchText(ctx context.Context, rawURL string, opt Options) (string, error) {
	opt = opt.withDefaults()

	u, err := url.Parse(rawURL)
	if err != nil || u == nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		if err == nil {
			err = errors.New("only http and https URLs are allowed")
		}
		return "", &NetworkError{URL: rawURL, Code: CodeInvalidURL, Cause: err}
	}

	client, err := newClient(opt)
	if err != nil {
		return "", &NetworkError{URL: rawURL, Code: CodeInvalidURL, Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &NetworkError{URL: rawURL, Code: CodeInvalidURL, Cause: err}
	}
	req.Header.Set("User-Agent", common.AppName)

	common.LogDebug("Fetching %s", u.Redacted())
	resp, err := client.Do(req)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return "", classify(rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &NetworkError{URL: rawURL, Code: CodeBadStatus, Status: resp.StatusCode}
	}

	body, err := readLimited(resp.Body, opt.MaxBytes)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			return "", &NetworkError{URL: rawURL, Code: CodeTooLarge, Cause: err}
		}
		return "", classify(rawURL, err)
	}

	text := strings.ToValidUTF8(string(body), "")
	return common.TruncateChars(text, opt.MaxChars), nil
}

var errBodyTooLarge = errors.New("response body exceeds size limit")

// readLimited streams r and stops as soon as more than max bytes arrive.
func readLimited(r io.Reader, max int64) ([]byte, error) {
	var (
		body []byte
		buf  = make([]byte, readChunkSize)
	)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if int64(len(body)+n) > max {
				return nil, fmt.Errorf("%w (>%d bytes)", errBodyTooLarge, max)
			}
			body = append(body, buf[:n]...)
		}
		if err == io.EOF {
			return body, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func classify(rawURL string, err error) error {
	if errors.Is(err, errTooManyRedirects) || errors.Is(err, errRedirectBadScheme) {
		return &NetworkError{URL: rawURL, Code: CodeFailed, Cause: err}
	}

	// Timeout detection: errors may be wrapped (e.g. *url.Error).
	var ne net.Error
	if (errors.As(err, &ne) && ne.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		return &NetworkError{URL: rawURL, Code: CodeTimeout, Cause: err}
	}
	return &NetworkError{URL: rawURL, Code: CodeFailed, Cause: err}
}

func newClient(opt Options) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if opt.ProxyURL != "" {
		pu, err := url.Parse(opt.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		dialer, err := proxy.FromURL(pu, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("unsupported proxy: %w", err)
		}
		transport.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	}

	maxRedirects := opt.MaxRedirects
	return &http.Client{
		Timeout:   opt.Timeout,
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
	}, nil
}

// NameFromURL derives a display name from the URL fragment, falling back to
// the host.
func NameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "imported"
	}
	if frag, err := url.PathUnescape(u.Fragment); err == nil && strings.TrimSpace(frag) != "" {
		return strings.TrimSpace(frag)
	}
	if host := u.Hostname(); host != "" {
		return host
	}
	return "imported"
}
