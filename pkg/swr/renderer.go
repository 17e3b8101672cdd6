// Package swr implements the stale-while-revalidate serving pipeline. It
// ties the bot classifier, the cache rule engine, and the cache backend
// together to decide fresh/stale/miss serving per request, and schedules
// at-most-one background re-render per cache key.
package swr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// WaitProfile is the page-readiness signal a render attempt waits for.
// Attempts escalate from strict to minimal before giving up.
type WaitProfile string

const (
	// WaitNetworkIdle waits for the page's network activity to settle.
	WaitNetworkIdle WaitProfile = "networkidle"

	// WaitDOMReady waits for the DOM to be parsed.
	WaitDOMReady WaitProfile = "domready"

	// WaitMinimal waits only for navigation to commit.
	WaitMinimal WaitProfile = "minimal"
)

// renderLadder is the escalation order for render attempts.
var renderLadder = []WaitProfile{WaitNetworkIdle, WaitDOMReady, WaitMinimal}

// RenderResult is the outcome of one successful render.
type RenderResult struct {
	HTML       string
	StatusCode int
}

// Renderer is the external headless rendering capability. Render must be
// idempotent with respect to caching: repeated calls for the same URL are
// safe to issue. Browser automation internals are out of scope here.
type Renderer interface {
	Render(ctx context.Context, url string, profile WaitProfile) (*RenderResult, error)
}

// ErrRenderFailed is returned when every profile in the render ladder failed.
var ErrRenderFailed = errors.New("render failed")

// RenderError carries the failing URL and the last attempted profile.
type RenderError struct {
	URL     string
	Profile WaitProfile
	Err     error
}

// Error implements the error interface.
func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s failed at profile %s: %v", e.URL, e.Profile, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RenderError) Unwrap() error {
	return e.Err
}

// Is reports ErrRenderFailed for errors.Is.
func (e *RenderError) Is(target error) bool {
	return target == ErrRenderFailed
}

// renderWithEscalation walks the wait profile ladder, giving each attempt
// its own timeout slice. The renderer does not support mid-flight
// cancellation; expiry is treated as attempt failure and the next, more
// relaxed profile is tried.
func renderWithEscalation(ctx context.Context, r Renderer, url string, attemptTimeout time.Duration, logger zerolog.Logger) (*RenderResult, error) {
	var lastErr error
	lastProfile := renderLadder[0]

	for _, profile := range renderLadder {
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		start := time.Now()
		result, err := r.Render(attemptCtx, url, profile)
		cancel()

		if err == nil && result != nil {
			renderDuration.Observe(time.Since(start).Seconds())
			rendersTotal.WithLabelValues("success").Inc()
			if profile != renderLadder[0] {
				logger.Debug().
					Str("url", url).
					Str("profile", string(profile)).
					Msg("Render succeeded after wait escalation")
			}
			return result, nil
		}

		lastErr = err
		lastProfile = profile
		rendersTotal.WithLabelValues("attempt_failed").Inc()
		logger.Debug().
			Str("url", url).
			Str("profile", string(profile)).
			Err(err).
			Msg("Render attempt failed, escalating wait profile")

		// A dead parent context makes further attempts pointless.
		if ctx.Err() != nil {
			break
		}
	}

	rendersTotal.WithLabelValues("failure").Inc()
	return nil, &RenderError{URL: url, Profile: lastProfile, Err: lastErr}
}
