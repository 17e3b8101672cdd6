package warmup

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
)

// maxSitemapBytes caps a single sitemap document.
const maxSitemapBytes = 50 << 20

// maxSitemapDepth bounds sitemap index recursion.
const maxSitemapDepth = 3

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc string `xml:"loc"`
}

type sitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []sitemapURL `xml:"sitemap"`
}

// FetchSitemap downloads a sitemap and returns the page URLs it lists.
// Sitemap index files are followed recursively up to a fixed depth.
func FetchSitemap(ctx context.Context, client *http.Client, sitemapURL string) ([]string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	return fetchSitemap(ctx, client, sitemapURL, 0)
}

func fetchSitemap(ctx context.Context, client *http.Client, sitemapURL string, depth int) ([]string, error) {
	if depth > maxSitemapDepth {
		return nil, fmt.Errorf("sitemap index nesting exceeds %d levels", maxSitemapDepth)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create sitemap request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch sitemap %s: %w", sitemapURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch sitemap %s: status %d", sitemapURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSitemapBytes))
	if err != nil {
		return nil, fmt.Errorf("read sitemap %s: %w", sitemapURL, err)
	}

	return parseSitemap(ctx, client, body, depth)
}

func parseSitemap(ctx context.Context, client *http.Client, body []byte, depth int) ([]string, error) {
	var urlset sitemapURLSet
	if err := xml.Unmarshal(body, &urlset); err == nil && len(urlset.URLs) > 0 {
		urls := make([]string, 0, len(urlset.URLs))
		for _, u := range urlset.URLs {
			if u.Loc != "" {
				urls = append(urls, u.Loc)
			}
		}
		return urls, nil
	}

	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		var urls []string
		for _, sm := range index.Sitemaps {
			if sm.Loc == "" {
				continue
			}
			nested, err := fetchSitemap(ctx, client, sm.Loc, depth+1)
			if err != nil {
				return nil, err
			}
			urls = append(urls, nested...)
		}
		return urls, nil
	}

	return nil, fmt.Errorf("document is neither a urlset nor a sitemapindex")
}
