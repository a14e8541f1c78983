// Package fetch scrapes a PDS volume directory listing and downloads the
// raw products it links to.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/net/html"
)

// DefaultUserAgent is sent with every request; some archive mirrors reject
// the Go default.
const DefaultUserAgent = "Mozilla/5.0"

// DefaultTimeout bounds a single request.
const DefaultTimeout = 30 * time.Second

// Client fetches listings and files over HTTP.
type Client struct {
	http      *http.Client
	userAgent string
}

// NewClient returns a Client with DefaultTimeout. An empty userAgent means
// DefaultUserAgent.
func NewClient(userAgent string) *Client {
	return NewClientWith(&http.Client{Timeout: DefaultTimeout}, userAgent)
}

// NewClientWith wraps an existing http.Client.
func NewClientWith(hc *http.Client, userAgent string) *Client {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Client{http: hc, userAgent: userAgent}
}

func (c *Client) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	return resp, nil
}

// DataURL returns the listing URL of a volume's data directory.
func DataURL(volumeURL string) string {
	return strings.TrimRight(volumeURL, "/") + "/data/"
}

// ListLinks returns the absolute URLs of every .IMG and .LBL product
// (case-insensitive) linked from the volume's data/ listing, in page order
// and without duplicates.
func (c *Client) ListLinks(ctx context.Context, volumeURL string) ([]string, error) {
	dataURL := DataURL(volumeURL)
	base, err := url.Parse(dataURL)
	if err != nil {
		return nil, fmt.Errorf("parsing volume URL: %w", err)
	}

	resp, err := c.get(ctx, dataURL)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dataURL, err)
	}
	defer resp.Body.Close()

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing listing %s: %w", dataURL, err)
	}
	return productLinks(doc, base), nil
}

func productLinks(doc *html.Node, base *url.URL) []string {
	var links []string
	seen := make(map[string]bool)
	for n := range doc.Descendants() {
		if n.Type != html.ElementNode || n.Data != "a" {
			continue
		}
		for _, a := range n.Attr {
			if a.Key != "href" || !IsProduct(a.Val) {
				continue
			}
			ref, err := url.Parse(a.Val)
			if err != nil {
				continue
			}
			abs := base.ResolveReference(ref).String()
			if !seen[abs] {
				seen[abs] = true
				links = append(links, abs)
			}
		}
	}
	return links
}

// IsProduct reports whether href names a raw image or detached label.
func IsProduct(href string) bool {
	h := strings.ToUpper(href)
	if i := strings.IndexAny(h, "?#"); i >= 0 {
		h = h[:i]
	}
	return strings.HasSuffix(h, ".IMG") || strings.HasSuffix(h, ".LBL")
}

// Options controls Download.
type Options struct {
	Limit   int           // download at most Limit links; 0 means all
	Delay   time.Duration // pause after each request
	Verbose bool
}

// Summary reports a Download run.
type Summary struct {
	Downloaded int
	Skipped    int
	Bytes      int64
	Failures   map[string]error // keyed by URL
}

// Download fetches links into dest, one at a time. Files already present
// are skipped without a request. Per-file failures are logged and
// collected; only a cancelled ctx stops the batch early.
func (c *Client) Download(ctx context.Context, links []string, dest string, opts Options) (Summary, error) {
	sum := Summary{Failures: make(map[string]error)}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return sum, fmt.Errorf("creating %s: %w", dest, err)
	}
	if opts.Limit > 0 && len(links) > opts.Limit {
		links = links[:opts.Limit]
	}

	for i, link := range links {
		name, err := fileName(link)
		if err != nil {
			log.Printf("Warning: %v", err)
			sum.Failures[link] = err
			continue
		}
		target := filepath.Join(dest, name)
		if _, err := os.Stat(target); err == nil {
			if opts.Verbose {
				log.Printf("Skipping %s: already downloaded", name)
			}
			sum.Skipped++
			continue
		}

		log.Printf("Downloading %s (%d/%d)", name, i+1, len(links))
		n, err := c.downloadFile(ctx, link, target)
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			log.Printf("Warning: downloading %s: %v", link, err)
			sum.Failures[link] = err
		} else {
			sum.Downloaded++
			sum.Bytes += n
			if opts.Verbose {
				log.Printf("Saved %s (%s)", name, humanize.Bytes(uint64(n)))
			}
		}

		if err := sleep(ctx, opts.Delay); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

// downloadFile streams u into a temporary file next to target and renames
// it into place.
func (c *Client) downloadFile(ctx context.Context, u, target string) (n int64, err error) {
	resp, err := c.get(ctx, u)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	f, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".part-*")
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if n, err = io.Copy(f, resp.Body); err != nil {
		return n, err
	}
	if err = f.Close(); err != nil {
		return n, err
	}
	return n, os.Rename(f.Name(), target)
}

// fileName is the last path element of u.
func fileName(u string) (string, error) {
	parsed, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", u, err)
	}
	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("URL %q has no file name", u)
	}
	return name, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
