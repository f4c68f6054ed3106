// Package ingest provides the HTTP access used to read investor-relations pages,
// probe document links and download documents.
package ingest

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultUserAgent is sent when none is configured. Many IR sites refuse
// requests without a browser-like agent.
const DefaultUserAgent = "Mozilla/5.0 (compatible; AnnualReports/1.0; +https://github.com/annualreports)"

const maxPageBytes = 10 << 20

// Client performs GET/HEAD requests with a fixed user agent.
type Client struct {
	HTTP      *http.Client
	UserAgent string
}

// NewClient creates a client whose requests are bounded by timeout.
func NewClient(timeout time.Duration, userAgent string) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Client{
		HTTP:      &http.Client{Timeout: timeout},
		UserAgent: userAgent,
	}
}

// Page is a fetched HTML page. URL is the final location after redirects.
type Page struct {
	URL         *url.URL
	HTML        string
	ContentType string
}

// GetPage downloads an HTML page.
func (c *Client) GetPage(ctx context.Context, pageURL string) (*Page, error) {
	resp, err := c.do(ctx, http.MethodGet, pageURL, map[string]string{"Accept": "text/html,application/xhtml+xml"})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("%s returned status %d", pageURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read %s", pageURL)
	}
	return &Page{
		URL:         resp.Request.URL,
		HTML:        string(body),
		ContentType: MediaType(resp.Header.Get("Content-Type")),
	}, nil
}

// Probe reports the media type served at target without downloading it. Servers
// that reject HEAD are retried with a one-kilobyte ranged GET.
func (c *Client) Probe(ctx context.Context, target string) (string, error) {
	resp, err := c.do(ctx, http.MethodHead, target, nil)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode < 400 {
			if ct := MediaType(resp.Header.Get("Content-Type")); ct != "" {
				return ct, nil
			}
		}
	}

	resp, err = c.do(ctx, http.MethodGet, target, map[string]string{"Range": "bytes=0-1023"})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= 400 {
		return "", eris.Errorf("probe of %s returned status %d", target, resp.StatusCode)
	}
	return MediaType(resp.Header.Get("Content-Type")), nil
}

// Open starts a GET download. The caller closes the body.
func (c *Client) Open(ctx context.Context, target string) (*http.Response, error) {
	resp, err := c.do(ctx, http.MethodGet, target, map[string]string{"Accept": "application/pdf,application/xhtml+xml,*/*"})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, eris.Errorf("%s returned status %d", target, resp.StatusCode)
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, target string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid url %s", target)
	}
	req.Header.Set("User-Agent", c.UserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "%s %s failed", method, target)
	}
	return resp, nil
}

// MediaType returns the lower-cased media type of a Content-Type header value.
func MediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return mt
}

var documentTypes = map[string]bool{
	"application/pdf":            true,
	"application/x-pdf":          true,
	"application/octet-stream":   true,
	"binary/octet-stream":        true,
	"application/force-download": true,
	"application/download":       true,
}

// IsDocumentType reports whether a media type is a binary document download.
func IsDocumentType(mediaType string) bool {
	return documentTypes[mediaType]
}

// IsHTMLType reports whether a media type is an (X)HTML page.
func IsHTMLType(mediaType string) bool {
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// Resolve resolves ref against base. It returns "" for refs that do not point at
// a fetchable resource.
func Resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	lower := strings.ToLower(ref)
	if ref == "" || strings.HasPrefix(ref, "#") ||
		strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tel:") ||
		strings.HasPrefix(lower, "data:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}
