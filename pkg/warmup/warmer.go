package warmup

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds warmer configuration.
type Config struct {
	// MaxConcurrency is the maximum number of URLs warmed in parallel.
	// Keep this below the render service's concurrency limit.
	MaxConcurrency int
	// Timeout per URL warm.
	Timeout time.Duration
	// BufferSize for the internal work queue.
	BufferSize int
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 8,
		Timeout:        60 * time.Second,
		BufferSize:     256,
	}
}

// Target is the warm destination, implemented by the serving pipeline.
type Target interface {
	// Warm renders and stores a snapshot for url. Warming a fresh URL is
	// a no-op.
	Warm(ctx context.Context, url string) error
}

// Result is the outcome for a single URL.
type Result struct {
	URL   string
	Error error
}

// Summary aggregates a whole warmup run.
type Summary struct {
	Total    int
	Warmed   int
	Failed   int
	Failures []Result
	Duration time.Duration
}

// Warmer drives parallel cache warming against a Target.
type Warmer struct {
	target Target
	config Config
}

// NewWarmer creates a new warmer.
func NewWarmer(target Target, config Config) *Warmer {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 8
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}

	return &Warmer{
		target: target,
		config: config,
	}
}

// WarmAll warms every URL using a worker pool. Individual failures do not
// stop the run; they are collected into the summary.
func (w *Warmer) WarmAll(ctx context.Context, urls []string) Summary {
	start := time.Now()

	log.Info().
		Int("urls", len(urls)).
		Int("workers", w.config.MaxConcurrency).
		Msg("Starting cache warmup")

	queue := make(chan string, w.config.BufferSize)
	results := make(chan Result, w.config.BufferSize)

	go func() {
		defer close(queue)
		for _, u := range urls {
			select {
			case queue <- u:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < w.config.MaxConcurrency; i++ {
		wg.Add(1)
		go w.worker(ctx, queue, results, &wg, i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	summary := Summary{Total: len(urls)}
	for result := range results {
		if result.Error != nil {
			summary.Failed++
			summary.Failures = append(summary.Failures, result)
			continue
		}

		summary.Warmed++

		// Progress logging every 50 URLs
		if summary.Warmed%50 == 0 {
			log.Info().
				Int("warmed", summary.Warmed).
				Int("total", summary.Total).
				Float64("progress_pct", float64(summary.Warmed)/float64(summary.Total)*100).
				Msg("Warmup progress")
		}
	}

	summary.Duration = time.Since(start)

	log.Info().
		Int("warmed", summary.Warmed).
		Int("failed", summary.Failed).
		Int("total", summary.Total).
		Dur("duration", summary.Duration).
		Msg("Cache warmup complete")

	return summary
}

// worker warms URLs from the queue until it is drained or the context dies.
func (w *Warmer) worker(ctx context.Context, queue <-chan string, results chan<- Result, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	warmed := 0

	for u := range queue {
		select {
		case <-ctx.Done():
			log.Debug().
				Int("worker_id", workerID).
				Int("warmed", warmed).
				Msg("Warmup worker stopping (context cancelled)")
			return
		default:
		}

		warmCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
		err := w.target.Warm(warmCtx, u)
		cancel()

		if err != nil {
			log.Warn().
				Err(err).
				Int("worker_id", workerID).
				Str("url", u).
				Msg("URL warmup failed")
		}

		select {
		case results <- Result{URL: u, Error: err}:
		case <-ctx.Done():
			return
		}

		warmed++
	}

	if warmed > 0 {
		log.Debug().
			Int("worker_id", workerID).
			Int("warmed", warmed).
			Msg("Warmup worker completed")
	}
}
