// Package botdetect classifies inbound requests as crawler or human traffic.
//
// Classification runs a degrading fallback chain: an injected advanced
// detector first, then a built-in crawler signature check, and finally the
// signature check alone when no detector is configured. The classifier is a
// pure decision function; it performs no caching and holds no mutable state
// beyond the injected detector handle.
package botdetect

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for bot classification.
var (
	classificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seoshield_bot_classifications_total",
		Help: "Total bot classifications by tier and verdict",
	}, []string{"tier", "verdict"})

	detectorFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seoshield_bot_detector_failures_total",
		Help: "Total advanced detector failures that fell through to the signature check",
	})
)

// Action is the serving action recommended by a classification.
type Action string

const (
	// ActionAllow passes the request through to the live origin.
	ActionAllow Action = "allow"

	// ActionRender serves a pre-rendered snapshot.
	ActionRender Action = "render"
)

// Request carries the request attributes relevant to classification.
type Request struct {
	UserAgent string
	IP        string
	Path      string
	Method    string
	Headers   map[string]string
}

// Result is a confidence-scored classification verdict.
type Result struct {
	// IsBot is the binary verdict.
	IsBot bool `json:"is_bot"`

	// Confidence is the verdict confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// BotType names the crawler family ("googlebot", "unknown", "human").
	BotType string `json:"bot_type"`

	// RulesMatched lists the detector rule identifiers that fired.
	RulesMatched []string `json:"rules_matched,omitempty"`

	// Action is the recommended serving action.
	Action Action `json:"action"`
}

// Detector is an externally injected advanced detection capability.
// Implementations may consult header heuristics, IP reputation, or behavioral
// signals. An error return falls the classifier through to the signature
// check.
type Detector interface {
	Detect(ctx context.Context, req Request) (Result, error)
}

// Config holds classifier configuration.
type Config struct {
	// Detector is the optional advanced detector. Nil disables tier 1.
	Detector Detector

	// DetectorTimeout bounds each advanced detector call.
	DetectorTimeout time.Duration
}

// DefaultConfig returns a classifier configuration with no advanced detector.
func DefaultConfig() Config {
	return Config{
		DetectorTimeout: 500 * time.Millisecond,
	}
}

// Classifier assigns bot/human verdicts with a degrading fallback chain.
type Classifier struct {
	detector        Detector
	detectorTimeout time.Duration
	logger          zerolog.Logger
}

// NewClassifier creates a classifier. The detector handle is held, not owned.
func NewClassifier(cfg Config, logger zerolog.Logger) *Classifier {
	timeout := cfg.DetectorTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().DetectorTimeout
	}
	return &Classifier{
		detector:        cfg.Detector,
		detectorTimeout: timeout,
		logger:          logger,
	}
}

// Classify scores a request as bot or human.
//
// Tier 1 consults the advanced detector under a bounded timeout; any error
// or timeout falls through. Tier 2 synthesizes a verdict from the crawler
// signature check. Tier 3 is tier 2 when no detector is configured at all.
func (c *Classifier) Classify(ctx context.Context, req Request) Result {
	if c.detector != nil {
		detectCtx, cancel := context.WithTimeout(ctx, c.detectorTimeout)
		result, err := c.detector.Detect(detectCtx, req)
		cancel()

		if err == nil {
			classificationsTotal.WithLabelValues("detector", verdictLabel(result.IsBot)).Inc()
			c.logger.Debug().
				Str("tier", "detector").
				Bool("bot", result.IsBot).
				Float64("confidence", result.Confidence).
				Strs("rules", result.RulesMatched).
				Msg("Classified by advanced detector")
			return result
		}

		detectorFailuresTotal.Inc()
		c.logger.Warn().Err(err).
			Str("user_agent", req.UserAgent).
			Msg("Advanced detector failed, falling back to signature check")
	}

	return c.classifyBySignature(req)
}

// classifyBySignature is the tier 2/3 crawler signature verdict.
func (c *Classifier) classifyBySignature(req Request) Result {
	if IsCrawlerUserAgent(req.UserAgent) {
		result := Result{
			IsBot:      true,
			Confidence: 0.8,
			BotType:    KnownBotType(req.UserAgent),
			Action:     ActionRender,
		}
		classificationsTotal.WithLabelValues("signature", "bot").Inc()
		c.logger.Debug().
			Str("tier", "signature").
			Str("bot_type", result.BotType).
			Msg("Crawler signature matched")
		return result
	}

	classificationsTotal.WithLabelValues("signature", "human").Inc()
	return Result{
		IsBot:      false,
		Confidence: 0.2,
		BotType:    "human",
		Action:     ActionAllow,
	}
}

func verdictLabel(isBot bool) string {
	if isBot {
		return "bot"
	}
	return "human"
}
