package cacherules

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Decision is the outcome of evaluating the cache rules for one URL.
// Value type, returned fresh per call.
type Decision struct {
	// ShouldRender is false when a NO_CACHE pattern denies rendering.
	ShouldRender bool `json:"should_render"`

	// ShouldCache is true when the rendered snapshot may be stored.
	ShouldCache bool `json:"should_cache"`

	// Reason describes which rule produced the decision.
	Reason string `json:"reason"`
}

// Config holds the rule engine inputs.
type Config struct {
	// NoCachePatterns is a comma-separated list of patterns that deny both
	// rendering and caching.
	NoCachePatterns string

	// CachePatterns is a comma-separated whitelist of cacheable patterns.
	// When empty, CacheByDefault applies instead.
	CachePatterns string

	// CacheByDefault is the fallback policy when no pattern matches.
	CacheByDefault bool

	// MetaTagName is the HTML meta tag consulted by ShouldCacheHTML.
	MetaTagName string
}

// DefaultConfig returns a permissive default rule configuration.
func DefaultConfig() Config {
	return Config{
		CacheByDefault: true,
		MetaTagName:    "seo-shield-cache",
	}
}

// ruleSet is one immutable compiled configuration generation. The engine
// swaps the whole value on reload, never mutating a published set.
type ruleSet struct {
	noCache        []*Pattern
	cache          []*Pattern
	cacheByDefault bool
	metaTagName    string
	metaRe         *metaTagMatcher
}

// Engine evaluates cache rules for URLs and rendered HTML.
// Safe for concurrent use; reads are lock-free.
type Engine struct {
	rules  atomic.Pointer[ruleSet]
	logger zerolog.Logger
}

// NewEngine compiles the configured patterns into a rule engine.
// Invalid pattern entries are logged and dropped, never fatal.
func NewEngine(cfg Config, logger zerolog.Logger) *Engine {
	e := &Engine{logger: logger}
	e.rules.Store(e.compile(cfg))
	return e
}

// Reload atomically replaces the active rule set with a freshly compiled one.
// In-flight evaluations keep using the generation they started with.
func (e *Engine) Reload(cfg Config) {
	e.rules.Store(e.compile(cfg))
	e.logger.Info().
		Bool("cache_by_default", cfg.CacheByDefault).
		Str("meta_tag", cfg.MetaTagName).
		Msg("Cache rules reloaded")
}

func (e *Engine) compile(cfg Config) *ruleSet {
	onDrop := func(raw string, err error) {
		e.logger.Warn().Str("pattern", raw).Err(err).Msg("Dropping invalid cache pattern")
	}

	metaTag := cfg.MetaTagName
	if metaTag == "" {
		metaTag = DefaultConfig().MetaTagName
	}

	return &ruleSet{
		noCache:        compilePatternList(cfg.NoCachePatterns, onDrop),
		cache:          compilePatternList(cfg.CachePatterns, onDrop),
		cacheByDefault: cfg.CacheByDefault,
		metaTagName:    metaTag,
		metaRe:         newMetaTagMatcher(metaTag),
	}
}

// ShouldCacheURL evaluates the URL-level rules for a path.
// Priority: NO_CACHE patterns, then the CACHE whitelist when non-empty, then
// the cache-by-default policy.
func (e *Engine) ShouldCacheURL(path string) Decision {
	rs := e.rules.Load()

	for _, p := range rs.noCache {
		if p.Match(path) {
			return Decision{
				ShouldRender: false,
				ShouldCache:  false,
				Reason:       fmt.Sprintf("NO_CACHE pattern: %s", p.Raw),
			}
		}
	}

	if len(rs.cache) > 0 {
		for _, p := range rs.cache {
			if p.Match(path) {
				return Decision{
					ShouldRender: true,
					ShouldCache:  true,
					Reason:       fmt.Sprintf("CACHE pattern match: %s", p.Raw),
				}
			}
		}
		// Render stays true so meta tag inspection remains possible
		// downstream, but caching defaults off outside the whitelist.
		return Decision{
			ShouldRender: true,
			ShouldCache:  false,
			Reason:       "No CACHE pattern match, default applies",
		}
	}

	return Decision{
		ShouldRender: true,
		ShouldCache:  rs.cacheByDefault,
		Reason:       fmt.Sprintf("CACHE_BY_DEFAULT=%t", rs.cacheByDefault),
	}
}

// ShouldCacheHTML reports whether the rendered HTML permits caching, based on
// the first occurrence of the configured meta tag. Absence of the tag, or a
// malformed tag, defaults to true.
func (e *Engine) ShouldCacheHTML(html string) bool {
	return e.rules.Load().metaRe.allowsCache(html)
}

// Decide combines the URL rules with the HTML meta tag override.
// A NO_CACHE match is absolute: no meta tag can override it. Otherwise a
// meta tag with content "false" forces caching off while rendering stays
// allowed. Pass html == "" when no rendered content exists yet.
func (e *Engine) Decide(path, html string) Decision {
	decision := e.ShouldCacheURL(path)
	if !decision.ShouldRender {
		return decision
	}

	if html != "" && !e.ShouldCacheHTML(html) && decision.ShouldCache {
		return Decision{
			ShouldRender: true,
			ShouldCache:  false,
			Reason:       "Meta tag override: cache=false",
		}
	}

	return decision
}

// RulesSummary is a read-only snapshot of the active rule configuration.
type RulesSummary struct {
	NoCachePatterns []string `json:"no_cache_patterns"`
	CachePatterns   []string `json:"cache_patterns"`
	CacheByDefault  bool     `json:"cache_by_default"`
	MetaTagName     string   `json:"meta_tag_name"`
}

// Summary returns the compiled pattern sources and scalar settings of the
// active rule set, for observability endpoints.
func (e *Engine) Summary() RulesSummary {
	rs := e.rules.Load()

	sources := func(patterns []*Pattern) []string {
		out := make([]string, 0, len(patterns))
		for _, p := range patterns {
			out = append(out, p.Raw)
		}
		return out
	}

	return RulesSummary{
		NoCachePatterns: sources(rs.noCache),
		CachePatterns:   sources(rs.cache),
		CacheByDefault:  rs.cacheByDefault,
		MetaTagName:     rs.metaTagName,
	}
}
