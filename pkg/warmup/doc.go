// Package warmup pre-renders lists of URLs so crawlers never hit a cold
// cache. URL lists typically come from the site's sitemap.
//
// Example usage:
//
//	config := warmup.DefaultConfig()
//	warmer := warmup.NewWarmer(orchestrator, config)
//	urls, err := warmup.FetchSitemap(ctx, http.DefaultClient, "https://example.com/sitemap.xml")
//	summary := warmer.WarmAll(ctx, urls)
//
// The warmer:
//   - Spawns a bounded worker pool (default 8 workers)
//   - Distributes URLs across workers with a per-URL timeout
//   - Collects results with progress logging
//   - Keeps going on individual failures and reports them in the summary
//
// Warming an already fresh URL is a no-op, so re-running the warmer against
// the full sitemap is cheap.
package warmup
