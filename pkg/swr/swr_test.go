package swr

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/seoshield/seo-shield-proxy-sub001/pkg/botdetect"
	"github.com/seoshield/seo-shield-proxy-sub001/pkg/cacherules"
	"github.com/seoshield/seo-shield-proxy-sub001/pkg/cachestore"
)

// fakeRenderer returns scripted HTML per URL and counts calls. Profiles
// listed in failProfiles fail, which exercises the wait escalation ladder.
type fakeRenderer struct {
	mu           sync.Mutex
	html         string
	statusCode   int
	calls        int
	failProfiles map[WaitProfile]bool
	failAll      bool
	lastURL      string
	block        chan struct{}
}

func newFakeRenderer(html string) *fakeRenderer {
	return &fakeRenderer{html: html, statusCode: 200}
}

func (r *fakeRenderer) Render(ctx context.Context, url string, profile WaitProfile) (*RenderResult, error) {
	r.mu.Lock()
	r.calls++
	r.lastURL = url
	block := r.block
	failAll := r.failAll
	fail := r.failProfiles[profile]
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failAll || fail {
		return nil, errors.New("render backend unavailable")
	}
	return &RenderResult{HTML: r.html, StatusCode: r.statusCode}, nil
}

func (r *fakeRenderer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// stubBackend is an in-memory Backend with per-key scripted staleness, so
// stale-path tests need no sleeping.
type stubBackend struct {
	mu      sync.Mutex
	records map[string]*cachestore.Record
	stale   map[string]bool
	sets    int
}

func newStubBackend() *stubBackend {
	return &stubBackend{
		records: make(map[string]*cachestore.Record),
		stale:   make(map[string]bool),
	}
}

func (b *stubBackend) Get(key string) (*cachestore.Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[key]
	return rec, ok
}

func (b *stubBackend) GetWithTTL(key string) cachestore.Lookup {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[key]
	if !ok {
		return cachestore.Lookup{}
	}
	return cachestore.Lookup{
		Record:       rec,
		TTLRemaining: time.Minute,
		Stale:        b.stale[key],
		Found:        true,
	}
}

func (b *stubBackend) Set(key string, rec *cachestore.Record, ttl time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[key] = rec
	b.stale[key] = false
	b.sets++
	return true
}

func (b *stubBackend) Delete(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.records[key]; !ok {
		return 0
	}
	delete(b.records, key)
	delete(b.stale, key)
	return 1
}

func (b *stubBackend) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = make(map[string]*cachestore.Record)
	b.stale = make(map[string]bool)
}

func (b *stubBackend) Stats() cachestore.Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cachestore.Stats{Backend: "stub", Keys: len(b.records)}
}

func (b *stubBackend) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.records))
	for k := range b.records {
		keys = append(keys, k)
	}
	return keys
}

func (b *stubBackend) Entries() []cachestore.KeyedRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := make([]cachestore.KeyedRecord, 0, len(b.records))
	for k, rec := range b.records {
		entries = append(entries, cachestore.KeyedRecord{Key: k, Record: rec})
	}
	return entries
}

func (b *stubBackend) Ready() bool { return true }

func (b *stubBackend) Close() error { return nil }

func (b *stubBackend) markStale(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stale[key] = true
}

func (b *stubBackend) setCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sets
}

func newTestOrchestrator(t *testing.T, rulesCfg cacherules.Config, backend cachestore.Backend, renderer Renderer) *Orchestrator {
	t.Helper()
	logger := zerolog.Nop()
	rules := cacherules.NewEngine(rulesCfg, logger)
	classifier := botdetect.NewClassifier(botdetect.DefaultConfig(), logger)
	o, err := New(Config{
		RenderTimeout:     time.Second,
		RenderHardTimeout: 5 * time.Second,
		CacheTTL:          time.Hour,
	}, rules, classifier, backend, renderer, nil, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

const humanUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36"

func humanRequest(url string) Request {
	return Request{URL: url, Method: "GET", IP: "203.0.113.10", UserAgent: humanUA}
}

func botRequest(url string) Request {
	return Request{URL: url, Method: "GET", IP: "66.249.66.1", UserAgent: "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"}
}

func TestServeMissRendersAndStores(t *testing.T) {
	backend := newStubBackend()
	renderer := newFakeRenderer("<html>fresh page</html>")
	o := newTestOrchestrator(t, cacherules.Config{CacheByDefault: true}, backend, renderer)
	defer o.Close()

	out, err := o.Serve(context.Background(), humanRequest("https://example.com/products"))
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if !out.Served || out.Source != SourceRender {
		t.Fatalf("expected served render outcome, got served=%t source=%s", out.Served, out.Source)
	}
	if out.HTML != "<html>fresh page</html>" || out.StatusCode != 200 {
		t.Errorf("unexpected body: status=%d html=%q", out.StatusCode, out.HTML)
	}
	if backend.setCount() != 1 {
		t.Errorf("expected 1 store, got %d", backend.setCount())
	}

	// Second request hits the fresh entry without another render.
	out, err = o.Serve(context.Background(), humanRequest("https://example.com/products"))
	if err != nil {
		t.Fatalf("Serve (second): %v", err)
	}
	if out.Source != SourceCacheFresh {
		t.Errorf("expected cache_fresh, got %s", out.Source)
	}
	if renderer.callCount() != 1 {
		t.Errorf("expected 1 render call, got %d", renderer.callCount())
	}
}

func TestServeStaleServesImmediatelyAndRevalidatesOnce(t *testing.T) {
	backend := newStubBackend()
	renderer := newFakeRenderer("<html>v2</html>")
	// Hold the background re-render until the whole burst has been answered,
	// so every request observes the stale entry.
	renderer.block = make(chan struct{})
	o := newTestOrchestrator(t, cacherules.Config{CacheByDefault: true}, backend, renderer)

	key := cachestore.Key("https://example.com/blog/post")
	backend.Set(key, cachestore.NewRecord("<html>v1</html>", 200, time.Hour), time.Hour)
	backend.markStale(key)

	// A burst of concurrent stale hits must all serve v1 immediately and
	// trigger exactly one background re-render.
	const n = 8
	var wg sync.WaitGroup
	outcomes := make([]*Outcome, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := o.Serve(context.Background(), humanRequest("https://example.com/blog/post"))
			if err != nil {
				t.Errorf("Serve: %v", err)
				return
			}
			outcomes[i] = out
		}(i)
	}
	wg.Wait()
	close(renderer.block)
	o.Close()

	for i, out := range outcomes {
		if out == nil {
			continue
		}
		if out.Source != SourceCacheStale {
			t.Errorf("request %d: expected cache_stale, got %s", i, out.Source)
		}
		if out.HTML != "<html>v1</html>" {
			t.Errorf("request %d: expected stale body, got %q", i, out.HTML)
		}
	}
	if renderer.callCount() != 1 {
		t.Errorf("expected exactly 1 revalidation render, got %d", renderer.callCount())
	}

	rec, ok := backend.Get(key)
	if !ok || rec.Content != "<html>v2</html>" {
		t.Errorf("expected refreshed snapshot after revalidation, got %+v", rec)
	}
}

func TestServeBotGetsStaleWithoutRender(t *testing.T) {
	backend := newStubBackend()
	renderer := newFakeRenderer("<html>new</html>")
	o := newTestOrchestrator(t, cacherules.Config{CacheByDefault: true}, backend, renderer)
	defer o.Close()

	key := cachestore.Key("https://example.com/products")
	backend.Set(key, cachestore.NewRecord("<html>old</html>", 200, time.Hour), time.Hour)
	backend.markStale(key)

	out, err := o.Serve(context.Background(), botRequest("https://example.com/products"))
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if out.Source != SourceCacheBot {
		t.Errorf("expected cache_bot, got %s", out.Source)
	}
	if out.HTML != "<html>old</html>" {
		t.Errorf("bot should get the last snapshot regardless of staleness, got %q", out.HTML)
	}
	if !out.Detection.IsBot {
		t.Error("expected bot detection")
	}
	if renderer.callCount() != 0 {
		t.Errorf("expected no render for bot cache hit, got %d", renderer.callCount())
	}
}

func TestServeBotMissRendersSynchronously(t *testing.T) {
	backend := newStubBackend()
	renderer := newFakeRenderer("<html>snapshot</html>")
	o := newTestOrchestrator(t, cacherules.Config{CacheByDefault: true}, backend, renderer)
	defer o.Close()

	out, err := o.Serve(context.Background(), botRequest("https://example.com/landing"))
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if out.Source != SourceRender || out.HTML != "<html>snapshot</html>" {
		t.Errorf("expected rendered outcome, got source=%s html=%q", out.Source, out.HTML)
	}
	if backend.setCount() != 1 {
		t.Errorf("expected snapshot stored, sets=%d", backend.setCount())
	}
}

func TestServeNoCachePassthrough(t *testing.T) {
	backend := newStubBackend()
	renderer := newFakeRenderer("<html>ignored</html>")
	o := newTestOrchestrator(t, cacherules.Config{
		NoCachePatterns: "/admin/*,/api/*",
		CacheByDefault:  true,
	}, backend, renderer)
	defer o.Close()

	out, err := o.Serve(context.Background(), humanRequest("https://example.com/admin/users"))
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if out.Served {
		t.Error("NO_CACHE match must pass through, not serve")
	}
	if out.Source != SourcePassthrough {
		t.Errorf("expected passthrough, got %s", out.Source)
	}
	if renderer.callCount() != 0 {
		t.Errorf("expected no render, got %d", renderer.callCount())
	}
	if backend.setCount() != 0 {
		t.Errorf("expected no store, got %d", backend.setCount())
	}
}

func TestWhitelistMissRendersWithoutStoring(t *testing.T) {
	backend := newStubBackend()
	renderer := newFakeRenderer("<html>page</html>")
	o := newTestOrchestrator(t, cacherules.Config{
		CachePatterns:  "/products/*",
		CacheByDefault: false,
	}, backend, renderer)
	defer o.Close()

	out, err := o.Serve(context.Background(), humanRequest("https://example.com/checkout"))
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if !out.Served || out.Source != SourceRender {
		t.Fatalf("off-whitelist pages still render, got served=%t source=%s", out.Served, out.Source)
	}
	if backend.setCount() != 0 {
		t.Errorf("off-whitelist snapshot must not be stored, sets=%d", backend.setCount())
	}
}

func TestRenderOverrideBypassesCache(t *testing.T) {
	backend := newStubBackend()
	renderer := newFakeRenderer("<html>live</html>")
	o := newTestOrchestrator(t, cacherules.Config{CacheByDefault: true}, backend, renderer)
	defer o.Close()

	key := cachestore.Key("https://example.com/page")
	backend.Set(key, cachestore.NewRecord("<html>cached</html>", 200, time.Hour), time.Hour)
	before := backend.setCount()

	out, err := o.Serve(context.Background(), humanRequest("https://example.com/page?render=1"))
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if out.Source != SourceRender || out.HTML != "<html>live</html>" {
		t.Errorf("override must bypass the cached entry, got source=%s html=%q", out.Source, out.HTML)
	}
	if backend.setCount() != before {
		t.Error("override render must not touch the stored entry")
	}
	if got := renderer.lastURL; strings.Contains(got, "render=") {
		t.Errorf("override param must be stripped before rendering, got %q", got)
	}

	// The stored entry still serves afterwards.
	out, err = o.Serve(context.Background(), humanRequest("https://example.com/page"))
	if err != nil {
		t.Fatalf("Serve (after override): %v", err)
	}
	if out.Source != SourceCacheFresh || out.HTML != "<html>cached</html>" {
		t.Errorf("expected untouched cache entry, got source=%s html=%q", out.Source, out.HTML)
	}
}

func TestDebugOverrideReturnsDiagnostics(t *testing.T) {
	backend := newStubBackend()
	renderer := newFakeRenderer("<html>page</html>")
	o := newTestOrchestrator(t, cacherules.Config{CacheByDefault: true}, backend, renderer)
	defer o.Close()

	key := cachestore.Key("https://example.com/page")
	backend.Set(key, cachestore.NewRecord("<html>cached</html>", 200, time.Hour), time.Hour)
	backend.markStale(key)
	before := backend.setCount()

	out, err := o.Serve(context.Background(), humanRequest("https://example.com/page?debug=1"))
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if out.Source != SourceDebug || out.Diagnostics == nil {
		t.Fatalf("expected debug outcome with diagnostics, got source=%s", out.Source)
	}
	if out.Diagnostics.CacheStatus != "stale" {
		t.Errorf("expected cache status stale, got %q", out.Diagnostics.CacheStatus)
	}
	if out.Diagnostics.Detection.IsBot {
		t.Error("human UA misclassified in diagnostics")
	}
	if backend.setCount() != before {
		t.Error("debug request must not write to the cache")
	}
}

// lateHitBackend misses on the TTL-aware lookup but hits on the plain Get:
// the shape of a record landing between the lookup and a failed render.
type lateHitBackend struct {
	*stubBackend
}

func (b lateHitBackend) GetWithTTL(key string) cachestore.Lookup {
	return cachestore.Lookup{}
}

func TestRenderFailureServesCachedFallback(t *testing.T) {
	backend := newStubBackend()
	renderer := newFakeRenderer("")
	renderer.failAll = true
	o := newTestOrchestrator(t, cacherules.Config{CacheByDefault: true}, lateHitBackend{backend}, renderer)
	defer o.Close()

	key := cachestore.Key("https://example.com/flaky")
	backend.Set(key, cachestore.NewRecord("<html>fallback</html>", 200, time.Hour), time.Hour)

	out, err := o.Serve(context.Background(), humanRequest("https://example.com/flaky"))
	if err != nil {
		t.Fatalf("expected cached fallback, got error: %v", err)
	}
	if out.HTML != "<html>fallback</html>" {
		t.Errorf("expected fallback snapshot, got %q", out.HTML)
	}
}

func TestRenderFailureWithoutCacheReturnsError(t *testing.T) {
	backend := newStubBackend()
	renderer := newFakeRenderer("")
	renderer.failAll = true
	o := newTestOrchestrator(t, cacherules.Config{CacheByDefault: true}, backend, renderer)
	defer o.Close()

	out, err := o.Serve(context.Background(), humanRequest("https://example.com/missing"))
	if err == nil {
		t.Fatalf("expected error for uncached render failure, got %+v", out)
	}
	if !errors.Is(err, ErrRenderFailed) {
		t.Errorf("expected ErrRenderFailed, got %v", err)
	}
}

func TestRevalidationFailureCountedAsFailure(t *testing.T) {
	backend := newStubBackend()
	renderer := newFakeRenderer("")
	renderer.failAll = true
	o := newTestOrchestrator(t, cacherules.Config{CacheByDefault: true}, backend, renderer)

	key := cachestore.Key("https://example.com/blog/post")
	backend.Set(key, cachestore.NewRecord("<html>v1</html>", 200, time.Hour), time.Hour)
	backend.markStale(key)

	failuresBefore := promtestutil.ToFloat64(revalidationsTotal.WithLabelValues("failure"))
	successesBefore := promtestutil.ToFloat64(revalidationsTotal.WithLabelValues("success"))

	out, err := o.Serve(context.Background(), humanRequest("https://example.com/blog/post"))
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if out.Source != SourceCacheStale {
		t.Fatalf("expected cache_stale, got %s", out.Source)
	}
	o.Close()

	// The stale entry is untouched; the still-present snapshot must not make
	// the failed re-render count as a success.
	if rec, ok := backend.Get(key); !ok || rec.Content != "<html>v1</html>" {
		t.Errorf("stale entry changed: ok=%t", ok)
	}
	if got := promtestutil.ToFloat64(revalidationsTotal.WithLabelValues("failure")) - failuresBefore; got != 1 {
		t.Errorf("failure revalidations = %v, want 1", got)
	}
	if got := promtestutil.ToFloat64(revalidationsTotal.WithLabelValues("success")) - successesBefore; got != 0 {
		t.Errorf("success revalidations = %v, want 0", got)
	}
}

func TestRenderEscalationFallsBack(t *testing.T) {
	renderer := newFakeRenderer("<html>eventually</html>")
	renderer.failProfiles = map[WaitProfile]bool{WaitNetworkIdle: true, WaitDOMReady: true}

	result, err := renderWithEscalation(context.Background(), renderer, "https://example.com/slow", time.Second, zerolog.Nop())
	if err != nil {
		t.Fatalf("renderWithEscalation: %v", err)
	}
	if result.HTML != "<html>eventually</html>" {
		t.Errorf("unexpected result: %q", result.HTML)
	}
	if renderer.callCount() != 3 {
		t.Errorf("expected 3 attempts across the ladder, got %d", renderer.callCount())
	}
}

func TestRenderEscalationExhausted(t *testing.T) {
	renderer := newFakeRenderer("")
	renderer.failAll = true

	_, err := renderWithEscalation(context.Background(), renderer, "https://example.com/broken", time.Second, zerolog.Nop())
	if err == nil {
		t.Fatal("expected error after exhausting the ladder")
	}
	if !errors.Is(err, ErrRenderFailed) {
		t.Errorf("expected ErrRenderFailed, got %v", err)
	}
	var rerr *RenderError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *RenderError, got %T", err)
	}
	if rerr.Profile != WaitMinimal {
		t.Errorf("expected final profile %s, got %s", WaitMinimal, rerr.Profile)
	}
}

func TestMetaTagBlocksStore(t *testing.T) {
	backend := newStubBackend()
	renderer := newFakeRenderer(`<html><head><meta name="seo-shield-cache" content="false"></head><body>private</body></html>`)
	o := newTestOrchestrator(t, cacherules.Config{CacheByDefault: true}, backend, renderer)
	defer o.Close()

	out, err := o.Serve(context.Background(), humanRequest("https://example.com/personalized"))
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if !out.Served || out.Source != SourceRender {
		t.Fatalf("page must still be served, got served=%t source=%s", out.Served, out.Source)
	}
	if backend.setCount() != 0 {
		t.Errorf("meta cache=false must block the store, sets=%d", backend.setCount())
	}
}

func TestConcurrentMissSharesOneRender(t *testing.T) {
	backend := newStubBackend()
	renderer := newFakeRenderer("<html>shared</html>")
	renderer.block = make(chan struct{})
	o := newTestOrchestrator(t, cacherules.Config{CacheByDefault: true}, backend, renderer)
	defer o.Close()

	const n = 5
	var wg sync.WaitGroup
	sources := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := o.Serve(context.Background(), humanRequest("https://example.com/cold"))
			if err != nil {
				t.Errorf("Serve: %v", err)
				return
			}
			sources[i] = out.Source
		}(i)
	}

	// Let every goroutine pile onto the in-flight render, then release it.
	time.Sleep(50 * time.Millisecond)
	close(renderer.block)
	wg.Wait()

	if renderer.callCount() != 1 {
		t.Errorf("expected a single shared render, got %d", renderer.callCount())
	}
	for i, src := range sources {
		if src != SourceRender {
			t.Errorf("request %d: expected render source, got %s", i, src)
		}
	}
}

func TestTrafficSinkPanicDoesNotBreakServing(t *testing.T) {
	backend := newStubBackend()
	renderer := newFakeRenderer("<html>ok</html>")
	logger := zerolog.Nop()
	rules := cacherules.NewEngine(cacherules.Config{CacheByDefault: true}, logger)
	classifier := botdetect.NewClassifier(botdetect.DefaultConfig(), logger)
	o, err := New(DefaultConfig(), rules, classifier, backend, renderer, panicSink{}, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer o.Close()

	out, err := o.Serve(context.Background(), humanRequest("https://example.com/panic"))
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if !out.Served {
		t.Error("panicking sink must not affect the response")
	}
}

type panicSink struct{}

func (panicSink) Report(Sample) { panic("sink exploded") }

func TestNewRejectsMissingCollaborators(t *testing.T) {
	logger := zerolog.Nop()
	rules := cacherules.NewEngine(cacherules.Config{CacheByDefault: true}, logger)
	classifier := botdetect.NewClassifier(botdetect.DefaultConfig(), logger)
	backend := newStubBackend()

	if _, err := New(DefaultConfig(), nil, classifier, backend, newFakeRenderer(""), nil, logger); err == nil {
		t.Error("expected error for nil rules")
	}
	if _, err := New(DefaultConfig(), rules, classifier, nil, newFakeRenderer(""), nil, logger); err == nil {
		t.Error("expected error for nil backend")
	}
	if _, err := New(DefaultConfig(), rules, classifier, backend, nil, nil, logger); err == nil {
		t.Error("expected error for nil renderer")
	}
}
