package swr

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/seoshield/seo-shield-proxy-sub001/pkg/botdetect"
	"github.com/seoshield/seo-shield-proxy-sub001/pkg/cacherules"
	"github.com/seoshield/seo-shield-proxy-sub001/pkg/cachestore"
)

// Serving sources reported in Outcome.Source.
const (
	SourceCacheFresh  = "cache_fresh"
	SourceCacheStale  = "cache_stale"
	SourceCacheBot    = "cache_bot"
	SourceRender      = "render"
	SourcePassthrough = "passthrough"
	SourceDebug       = "debug"
)

// Request is one inbound request resolved to a fully-qualified URL.
type Request struct {
	// URL is the fully-qualified request URL, query string included.
	URL string

	Method    string
	IP        string
	UserAgent string
	Headers   map[string]string
}

// Diagnostics is the debug-mode response body, returned instead of raw HTML.
type Diagnostics struct {
	URL         string                  `json:"url"`
	ElapsedMs   int64                   `json:"elapsed_ms"`
	Detection   botdetect.Result        `json:"detection"`
	Decision    cacherules.Decision     `json:"decision"`
	CacheStatus string                  `json:"cache_status"`
	RenderError string                  `json:"render_error,omitempty"`
	Rules       cacherules.RulesSummary `json:"rules"`
}

// Outcome is the pipeline's serving decision for one request.
type Outcome struct {
	// Served is false when the request should be proxied to the live
	// origin instead of being answered from the pipeline.
	Served bool

	// HTML is the snapshot body when Served is true (empty in debug mode).
	HTML string

	// StatusCode is the status to respond with.
	StatusCode int

	// Source names where the response came from.
	Source string

	// Detection is the bot classification for the request.
	Detection botdetect.Result

	// Decision is the URL-level cache decision.
	Decision cacherules.Decision

	// Diagnostics is non-nil only for debug-override requests.
	Diagnostics *Diagnostics
}

// Config holds orchestrator tuning.
type Config struct {
	// RenderTimeout bounds each render attempt in the wait ladder.
	RenderTimeout time.Duration

	// RenderHardTimeout bounds a whole render call including escalation.
	// A stuck renderer cannot block a key's revalidation past this.
	RenderHardTimeout time.Duration

	// CacheTTL is the TTL applied to stored snapshots.
	CacheTTL time.Duration
}

// DefaultConfig returns safe orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		RenderTimeout:     10 * time.Second,
		RenderHardTimeout: 40 * time.Second,
		CacheTTL:          time.Hour,
	}
}

// Orchestrator is the top of the serving pipeline. It owns no backend or
// renderer; collaborators are injected at construction and held for the
// orchestrator's lifetime.
type Orchestrator struct {
	rules      *cacherules.Engine
	classifier *botdetect.Classifier
	backend    cachestore.Backend
	renderer   Renderer
	sink       TrafficSink
	cfg        Config
	logger     zerolog.Logger

	// renders de-duplicates concurrent renders per cache key, for cold
	// misses and background revalidation alike.
	renders singleflight.Group

	revalMu       sync.Mutex
	revalInFlight map[string]struct{}
	revalWG       sync.WaitGroup
}

// New creates an orchestrator. backend, renderer, rules, and classifier are
// required; a nil sink defaults to NopSink.
func New(cfg Config, rules *cacherules.Engine, classifier *botdetect.Classifier, backend cachestore.Backend, renderer Renderer, sink TrafficSink, logger zerolog.Logger) (*Orchestrator, error) {
	if rules == nil || classifier == nil || backend == nil || renderer == nil {
		return nil, fmt.Errorf("rules, classifier, backend, and renderer are required")
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = DefaultConfig().RenderTimeout
	}
	if cfg.RenderHardTimeout <= 0 {
		cfg.RenderHardTimeout = DefaultConfig().RenderHardTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}
	if sink == nil {
		sink = NopSink{}
	}

	return &Orchestrator{
		rules:         rules,
		classifier:    classifier,
		backend:       backend,
		renderer:      renderer,
		sink:          sink,
		cfg:           cfg,
		logger:        logger,
		revalInFlight: make(map[string]struct{}),
	}, nil
}

// Serve runs the full pipeline for one request: classify, decide, then serve
// fresh, serve stale with background revalidation, render on miss, or hand
// the request back for transparent proxying.
func (o *Orchestrator) Serve(ctx context.Context, req Request) (*Outcome, error) {
	start := time.Now()

	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("parse request url: %w", err)
	}

	// Override params are control channel, not page identity: they must not
	// influence the cache key, the rule match, or the URL handed to the
	// renderer.
	overrides := stripOverrides(u)
	req.URL = u.String()

	matchPath := u.Path
	if u.RawQuery != "" {
		matchPath += "?" + u.RawQuery
	}

	detection := o.classifier.Classify(ctx, botdetect.Request{
		UserAgent: req.UserAgent,
		IP:        req.IP,
		Path:      u.Path,
		Method:    req.Method,
		Headers:   req.Headers,
	})

	decision := o.rules.ShouldCacheURL(matchPath)

	outcome, err := o.serve(ctx, req, u, detection, decision, overrides, start)

	statusCode := 0
	action := string(detection.Action)
	if outcome != nil {
		statusCode = outcome.StatusCode
		action = outcome.Source
	}
	o.report(Sample{
		Timestamp:  start,
		Method:     req.Method,
		Path:       u.Path,
		IP:         req.IP,
		UserAgent:  req.UserAgent,
		IsBot:      detection.IsBot,
		Action:     action,
		StatusCode: statusCode,
	})

	return outcome, err
}

// serve is the state machine behind Serve, split out so traffic reporting
// covers every exit path.
func (o *Orchestrator) serve(ctx context.Context, req Request, u *url.URL, detection botdetect.Result, decision cacherules.Decision, overrides overrides, start time.Time) (*Outcome, error) {
	// NO_CACHE has absolute priority: no rendering, no caching, the request
	// passes through to the live origin untouched.
	if !decision.ShouldRender {
		servesTotal.WithLabelValues(SourcePassthrough).Inc()
		o.logger.Debug().
			Str("url", req.URL).
			Str("reason", decision.Reason).
			Msg("Passing request through to origin")
		return &Outcome{
			Served:    false,
			Source:    SourcePassthrough,
			Detection: detection,
			Decision:  decision,
		}, nil
	}

	key := cachestore.Key(req.URL)

	if overrides.debug {
		return o.serveDebug(ctx, req, u, key, detection, decision, start)
	}

	// render/preview overrides bypass cache reads for this one request but
	// leave the stored entry untouched.
	if overrides.bypass {
		result, err := o.render(ctx, req.URL)
		if err != nil {
			return nil, err
		}
		servesTotal.WithLabelValues(SourceRender).Inc()
		return &Outcome{
			Served:     true,
			HTML:       result.HTML,
			StatusCode: result.StatusCode,
			Source:     SourceRender,
			Detection:  detection,
			Decision:   decision,
		}, nil
	}

	if detection.IsBot {
		return o.serveBot(ctx, req, u, key, detection, decision)
	}
	return o.serveHuman(ctx, req, u, key, detection, decision)
}

// serveBot serves crawlers the last known-good snapshot regardless of
// staleness: bot availability is prioritized over freshness. Only a true
// miss renders synchronously.
func (o *Orchestrator) serveBot(ctx context.Context, req Request, u *url.URL, key string, detection botdetect.Result, decision cacherules.Decision) (*Outcome, error) {
	if rec, ok := o.backend.Get(key); ok {
		servesTotal.WithLabelValues(SourceCacheBot).Inc()
		o.logger.Debug().
			Str("url", req.URL).
			Str("bot_type", detection.BotType).
			Dur("age", rec.Age()).
			Msg("Serving cached snapshot to bot")
		return &Outcome{
			Served:     true,
			HTML:       rec.Content,
			StatusCode: rec.StatusCode,
			Source:     SourceCacheBot,
			Detection:  detection,
			Decision:   decision,
		}, nil
	}

	rec, err := o.renderAndStore(ctx, key, req.URL, u, decision)
	if err != nil {
		return nil, err
	}
	servesTotal.WithLabelValues(SourceRender).Inc()
	return &Outcome{
		Served:     true,
		HTML:       rec.Content,
		StatusCode: rec.StatusCode,
		Source:     SourceRender,
		Detection:  detection,
		Decision:   decision,
	}, nil
}

// serveHuman runs the stale-while-revalidate path: fresh entries serve
// immediately, stale entries serve immediately while one background
// revalidation refreshes the key, and misses render synchronously.
func (o *Orchestrator) serveHuman(ctx context.Context, req Request, u *url.URL, key string, detection botdetect.Result, decision cacherules.Decision) (*Outcome, error) {
	lookup := o.backend.GetWithTTL(key)

	if lookup.Found && !lookup.Stale {
		servesTotal.WithLabelValues(SourceCacheFresh).Inc()
		return &Outcome{
			Served:     true,
			HTML:       lookup.Record.Content,
			StatusCode: lookup.Record.StatusCode,
			Source:     SourceCacheFresh,
			Detection:  detection,
			Decision:   decision,
		}, nil
	}

	if lookup.Found {
		// Stale: serve immediately, refresh in the background.
		o.scheduleRevalidation(key, req.URL, u, decision)
		servesTotal.WithLabelValues(SourceCacheStale).Inc()
		o.logger.Debug().
			Str("url", req.URL).
			Dur("ttl_remaining", lookup.TTLRemaining).
			Msg("Serving stale snapshot, revalidation scheduled")
		return &Outcome{
			Served:     true,
			HTML:       lookup.Record.Content,
			StatusCode: lookup.Record.StatusCode,
			Source:     SourceCacheStale,
			Detection:  detection,
			Decision:   decision,
		}, nil
	}

	rec, err := o.renderAndStore(ctx, key, req.URL, u, decision)
	if err != nil {
		return nil, err
	}
	servesTotal.WithLabelValues(SourceRender).Inc()
	return &Outcome{
		Served:     true,
		HTML:       rec.Content,
		StatusCode: rec.StatusCode,
		Source:     SourceRender,
		Detection:  detection,
		Decision:   decision,
	}, nil
}

// serveDebug renders the page and returns diagnostics instead of HTML. The
// cache is neither read nor written.
func (o *Orchestrator) serveDebug(ctx context.Context, req Request, u *url.URL, key string, detection botdetect.Result, decision cacherules.Decision, start time.Time) (*Outcome, error) {
	diag := &Diagnostics{
		URL:       req.URL,
		Detection: detection,
		Decision:  decision,
		Rules:     o.rules.Summary(),
	}

	lookup := o.backend.GetWithTTL(key)
	switch {
	case !lookup.Found:
		diag.CacheStatus = "miss"
	case lookup.Stale:
		diag.CacheStatus = "stale"
	default:
		diag.CacheStatus = "fresh"
	}

	statusCode := 200
	if _, err := o.render(ctx, req.URL); err != nil {
		// Debug mode surfaces the error message instead of failing.
		diag.RenderError = err.Error()
		statusCode = 500
	}

	diag.ElapsedMs = time.Since(start).Milliseconds()
	servesTotal.WithLabelValues(SourceDebug).Inc()

	return &Outcome{
		Served:      true,
		StatusCode:  statusCode,
		Source:      SourceDebug,
		Detection:   detection,
		Decision:    decision,
		Diagnostics: diag,
	}, nil
}

// render runs one escalating render call under the per-attempt timeout.
func (o *Orchestrator) render(ctx context.Context, rawURL string) (*RenderResult, error) {
	return renderWithEscalation(ctx, o.renderer, rawURL, o.cfg.RenderTimeout, o.logger)
}

// renderAndStore renders a URL and stores the snapshot, de-duplicating
// concurrent renders for the same key: simultaneous misses share one render
// instead of stampeding the renderer.
//
// The shared render runs detached from any single caller's context, bounded
// by the hard timeout, so one impatient client cannot cancel work that other
// callers are waiting on.
func (o *Orchestrator) renderAndStore(ctx context.Context, key, rawURL string, u *url.URL, decision cacherules.Decision) (*cachestore.Record, error) {
	rec, err := o.renderShared(key, rawURL, u, decision)
	if err != nil {
		// Another process (or an earlier revalidation) may have populated
		// the key while the render was failing; any cached snapshot beats
		// a user-visible error.
		if rec, ok := o.backend.Get(key); ok {
			o.logger.Warn().
				Str("url", rawURL).
				Err(err).
				Msg("Render failed, serving cached fallback")
			return rec, nil
		}
		return nil, err
	}
	return rec, nil
}

// renderShared is the de-duplicated render+store without the cached-fallback
// branch. Revalidation uses it directly: a failed re-render must surface as a
// failure even though the stale entry is still present.
func (o *Orchestrator) renderShared(key, rawURL string, u *url.URL, decision cacherules.Decision) (*cachestore.Record, error) {
	result, err, _ := o.renders.Do(key, func() (interface{}, error) {
		renderCtx, cancel := context.WithTimeout(context.Background(), o.cfg.RenderHardTimeout)
		defer cancel()

		res, err := o.render(renderCtx, rawURL)
		if err != nil {
			return nil, err
		}

		rec := cachestore.NewRecord(res.HTML, res.StatusCode, o.cfg.CacheTTL)

		// The URL-level decision can still be downgraded by the rendered
		// page's meta tag.
		if decision.ShouldCache {
			matchPath := u.Path
			if u.RawQuery != "" {
				matchPath += "?" + u.RawQuery
			}
			final := o.rules.Decide(matchPath, res.HTML)
			if final.ShouldCache {
				o.backend.Set(key, rec, o.cfg.CacheTTL)
			} else {
				o.logger.Debug().
					Str("url", rawURL).
					Str("reason", final.Reason).
					Msg("Snapshot not cached")
			}
		}

		return rec, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*cachestore.Record), nil
}

// Warm pre-renders rawURL and stores the snapshot when the rules allow
// caching it. Fresh entries are left alone; stale and missing entries are
// re-rendered synchronously. Used by the cache warmer.
func (o *Orchestrator) Warm(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse warm url: %w", err)
	}
	matchPath := u.Path
	if u.RawQuery != "" {
		matchPath += "?" + u.RawQuery
	}

	decision := o.rules.ShouldCacheURL(matchPath)
	if !decision.ShouldRender || !decision.ShouldCache {
		return nil
	}

	key := cachestore.Key(rawURL)
	if lookup := o.backend.GetWithTTL(key); lookup.Found && !lookup.Stale {
		return nil
	}

	_, err = o.renderAndStore(ctx, key, rawURL, u, decision)
	return err
}

// overrides are the recognized query parameter escape hatches.
type overrides struct {
	// bypass skips cache reads for this request (render/preview).
	bypass bool

	// debug returns render diagnostics instead of HTML.
	debug bool
}

// stripOverrides removes the recognized override parameters from u's query
// in place and reports which ones were present.
func stripOverrides(u *url.URL) overrides {
	query := u.Query()
	o := overrides{
		bypass: query.Has("render") || query.Has("preview"),
		debug:  query.Has("debug"),
	}
	if o.bypass || o.debug {
		query.Del("render")
		query.Del("preview")
		query.Del("debug")
		u.RawQuery = query.Encode()
	}
	return o
}
