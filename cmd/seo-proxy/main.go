package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/seoshield/seo-shield-proxy-sub001/pkg/botdetect"
	"github.com/seoshield/seo-shield-proxy-sub001/pkg/cacherules"
	"github.com/seoshield/seo-shield-proxy-sub001/pkg/cachestore"
	"github.com/seoshield/seo-shield-proxy-sub001/pkg/logging"
	"github.com/seoshield/seo-shield-proxy-sub001/pkg/metrics"
	"github.com/seoshield/seo-shield-proxy-sub001/pkg/ratelimit"
	"github.com/seoshield/seo-shield-proxy-sub001/pkg/renderclient"
	"github.com/seoshield/seo-shield-proxy-sub001/pkg/swr"
	"github.com/seoshield/seo-shield-proxy-sub001/pkg/warmup"
)

func main() {
	// Configuration from environment
	port := getEnv("PORT", "8080")
	siteURL := strings.TrimRight(getEnv("SITE_URL", "http://localhost:8080"), "/")
	originURL := getEnv("ORIGIN_URL", "")
	renderServiceURL := getEnv("RENDER_SERVICE_URL", "http://localhost:3000")
	renderServiceToken := getEnv("RENDER_SERVICE_TOKEN", "")

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: getEnvBool("LOG_PRETTY", false),
		Output: os.Stderr,
	})
	logger := logging.NewLogger("seo-proxy")

	// Cache backend
	cacheCfg := cachestore.DefaultConfig()
	cacheCfg.Type = getEnv("CACHE_TYPE", cacheCfg.Type)
	cacheCfg.TTL = getEnvDuration("CACHE_TTL", cacheCfg.TTL)
	cacheCfg.MaxEntries = getEnvInt("CACHE_MAX_ENTRIES", cacheCfg.MaxEntries)
	cacheCfg.RedisAddr = getEnv("REDIS_URL", cacheCfg.RedisAddr)
	cacheCfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	backend := cachestore.CreateCache(cacheCfg, logging.NewLogger("cachestore"))
	defer backend.Close()

	// Render budget gating needs shared Redis state; skipped on memory-only
	// deployments.
	var budget *ratelimit.Tracker
	if cacheCfg.Type == cachestore.TypeRedis {
		budgetRedis := redis.NewClient(&redis.Options{
			Addr:     cacheCfg.RedisAddr,
			Password: cacheCfg.RedisPassword,
			DB:       cacheCfg.RedisDB,
		})
		defer budgetRedis.Close()
		budget = ratelimit.NewTracker(budgetRedis, logging.NewLogger("ratelimit"))
	}

	// Render service client
	renderCfg := renderclient.DefaultConfig(renderServiceURL)
	renderCfg.Token = renderServiceToken
	renderCfg.Timeout = getEnvDuration("RENDER_TIMEOUT", renderCfg.Timeout)
	renderCfg.Budget = budget
	renderer, err := renderclient.New(renderCfg, logging.NewLogger("renderclient"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create render client")
	}

	// Rules and classification
	rules := cacherules.NewEngine(cacherules.Config{
		NoCachePatterns: getEnv("NO_CACHE_PATTERNS", ""),
		CachePatterns:   getEnv("CACHE_PATTERNS", ""),
		CacheByDefault:  getEnvBool("CACHE_BY_DEFAULT", true),
		MetaTagName:     getEnv("CACHE_META_TAG", ""),
	}, logging.NewLogger("cacherules"))

	classifier := botdetect.NewClassifier(botdetect.DefaultConfig(), logging.NewLogger("botdetect"))

	// Serving pipeline
	orchCfg := swr.DefaultConfig()
	orchCfg.RenderTimeout = getEnvDuration("RENDER_TIMEOUT", orchCfg.RenderTimeout)
	orchCfg.CacheTTL = cacheCfg.TTL
	orch, err := swr.New(orchCfg, rules, classifier, backend, renderer,
		swr.LogSink{Logger: logging.NewLogger("traffic")}, logging.NewLogger("swr"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create orchestrator")
	}
	defer orch.Close()

	warmer := warmup.NewWarmer(orch, warmup.DefaultConfig())

	// Pass-through destination for requests the pipeline declines to serve.
	var passthrough http.Handler
	if originURL != "" {
		origin, err := url.Parse(originURL)
		if err != nil {
			logger.Fatal().Err(err).Str("origin", originURL).Msg("Invalid ORIGIN_URL")
		}
		passthrough = httputil.NewSingleHostReverseProxy(origin)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.HandleFunc("/readyz", readyHandler(backend))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/seoshield/cache/stats", cacheStatsHandler(backend))
	mux.HandleFunc("/seoshield/cache/keys", cacheKeysHandler(backend))
	mux.HandleFunc("/seoshield/cache", cachePurgeHandler(backend))
	mux.HandleFunc("/seoshield/cache/flush", cacheFlushHandler(backend, logger))
	mux.HandleFunc("/seoshield/warm", warmHandler(warmer, logger))
	mux.HandleFunc("/", frontDoorHandler(orch, passthrough, siteURL, logger))

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", server.Addr).
			Str("site_url", siteURL).
			Str("render_service", renderServiceURL).
			Str("cache_type", backend.Stats().Backend).
			Msg("Starting SEO shield proxy")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// readyHandler reports 503 until the cache backend answers.
func readyHandler(backend cachestore.Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !backend.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "cache backend not ready")
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}
}

// frontDoorHandler runs every page request through the serving pipeline.
// Pass-through outcomes go to the origin reverse proxy when one is
// configured, and 502 otherwise.
func frontDoorHandler(orch *swr.Orchestrator, passthrough http.Handler, siteURL string, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		outcome, err := orch.Serve(r.Context(), swr.Request{
			URL:       siteURL + r.URL.RequestURI(),
			Method:    r.Method,
			IP:        clientIP(r),
			UserAgent: r.UserAgent(),
			Headers:   flattenHeader(r.Header),
		})
		if err != nil {
			logger.Error().Err(err).Str("path", r.URL.Path).Msg("Serving pipeline failed")
			http.Error(w, "rendering failed", http.StatusBadGateway)
			return
		}

		if !outcome.Served {
			if passthrough != nil {
				passthrough.ServeHTTP(w, r)
				return
			}
			http.Error(w, "no origin configured for pass-through", http.StatusBadGateway)
			return
		}

		if outcome.Diagnostics != nil {
			writeJSON(w, http.StatusOK, outcome.Diagnostics)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("X-Seoshield-Source", outcome.Source)
		w.WriteHeader(outcome.StatusCode)
		fmt.Fprint(w, outcome.HTML)
	}
}

func cacheStatsHandler(backend cachestore.Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, backend.Stats())
	}
}

func cacheKeysHandler(backend cachestore.Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, backend.Keys())
	}
}

// cachePurgeHandler removes one entry: DELETE /seoshield/cache?url=<page url>
func cachePurgeHandler(backend cachestore.Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		pageURL := r.URL.Query().Get("url")
		if pageURL == "" {
			http.Error(w, "url parameter required", http.StatusBadRequest)
			return
		}
		removed := backend.Delete(cachestore.Key(pageURL))
		writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
	}
}

func cacheFlushHandler(backend cachestore.Backend, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		backend.Flush()
		logger.Info().Msg("Cache flushed")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}
}

// warmHandler kicks off a sitemap warmup: POST /seoshield/warm?sitemap=<url>
func warmHandler(warmer *warmup.Warmer, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		sitemapURL := r.URL.Query().Get("sitemap")
		if sitemapURL == "" {
			http.Error(w, "sitemap parameter required", http.StatusBadRequest)
			return
		}

		urls, err := warmup.FetchSitemap(r.Context(), http.DefaultClient, sitemapURL)
		if err != nil {
			logger.Warn().Err(err).Str("sitemap", sitemapURL).Msg("Sitemap fetch failed")
			http.Error(w, fmt.Sprintf("fetch sitemap: %v", err), http.StatusBadGateway)
			return
		}

		// The warmup outlives the request; report the accepted URL count.
		go warmer.WarmAll(context.Background(), urls)
		writeJSON(w, http.StatusAccepted, map[string]int{"urls": len(urls)})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// clientIP prefers the first X-Forwarded-For hop over the socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i > 0 {
		host = host[:i]
	}
	return host
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key := range h {
		out[key] = h.Get(key)
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
