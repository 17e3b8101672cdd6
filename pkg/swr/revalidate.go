package swr

import (
	"net/url"
	"time"

	"github.com/seoshield/seo-shield-proxy-sub001/pkg/cacherules"
)

// scheduleRevalidation starts a background refresh for a stale key. At most
// one revalidation runs per key at a time; further stale hits while it runs
// are no-ops.
func (o *Orchestrator) scheduleRevalidation(key, rawURL string, u *url.URL, decision cacherules.Decision) {
	o.revalMu.Lock()
	if _, running := o.revalInFlight[key]; running {
		o.revalMu.Unlock()
		revalidationsTotal.WithLabelValues("deduplicated").Inc()
		return
	}
	o.revalInFlight[key] = struct{}{}
	o.revalMu.Unlock()

	o.revalWG.Add(1)
	go func() {
		defer o.revalWG.Done()
		defer func() {
			o.revalMu.Lock()
			delete(o.revalInFlight, key)
			o.revalMu.Unlock()
		}()

		o.revalidate(key, rawURL, u, decision)
	}()
}

// revalidate re-renders a stale URL and replaces the stored snapshot. A
// failed revalidation leaves the stale entry in place; it will be retried on
// the next stale hit.
func (o *Orchestrator) revalidate(key, rawURL string, u *url.URL, decision cacherules.Decision) {
	start := time.Now()

	// renderShared, not renderAndStore: the stale entry that is still in the
	// cache must not make a failed re-render look like a success.
	if _, err := o.renderShared(key, rawURL, u, decision); err != nil {
		revalidationsTotal.WithLabelValues("failure").Inc()
		o.logger.Warn().
			Str("url", rawURL).
			Err(err).
			Dur("duration", time.Since(start)).
			Msg("Background revalidation failed")
		return
	}

	revalidationsTotal.WithLabelValues("success").Inc()
	o.logger.Debug().
		Str("url", rawURL).
		Dur("duration", time.Since(start)).
		Msg("Background revalidation complete")
}

// Close waits for in-flight background revalidations to finish. The backend
// and renderer are owned by the caller and are not closed here.
func (o *Orchestrator) Close() {
	o.revalWG.Wait()
}
