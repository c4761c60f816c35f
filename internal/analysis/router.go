package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"voxdrop/internal/model"
)

// Router selects the provider chain for a tier and merges the results.
// FREE and BASIC run the standard provider only; PREMIUM and ENTERPRISE add
// the advanced multi-model pass.
type Router struct {
	standard Provider
	advanced Provider
	timeout  time.Duration
	log      *logrus.Entry
}

// NewRouter builds a router. advanced may be nil, in which case every tier
// uses the standard path and usedAdvancedAI stays false.
func NewRouter(standard, advanced Provider, timeout time.Duration, log *logrus.Entry) *Router {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Router{standard: standard, advanced: advanced, timeout: timeout, log: log}
}

// Analyze runs the tier-appropriate chain under the configured timeout. The
// boolean result reports whether the advanced path contributed, for the
// usedAdvancedAI billing snapshot.
func (r *Router) Analyze(ctx context.Context, payload Payload, tier model.Tier) (Result, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	base, err := r.standard.Analyze(ctx, payload)
	if err != nil {
		return Result{}, false, fmt.Errorf("standard analysis: %w", err)
	}

	if !tier.AdvancedAI() || r.advanced == nil {
		return base, false, nil
	}

	deep, err := r.advanced.Analyze(ctx, payload)
	if err != nil {
		return Result{}, false, fmt.Errorf("advanced analysis: %w", err)
	}
	return merge(base, deep), true, nil
}

// merge combines the standard and advanced results. The advanced model is
// trusted more on confidence, signals take the worst case, cost accumulates.
func merge(base, deep Result) Result {
	out := Result{
		Confidence: 0.4*base.Confidence + 0.6*deep.Confidence,
		Transcript: deep.Transcript,
		Signals: Signals{
			Spam:          maxf(base.Signals.Spam, deep.Signals.Spam),
			Gibberish:     maxf(base.Signals.Gibberish, deep.Signals.Gibberish),
			Synthetic:     maxf(base.Signals.Synthetic, deep.Signals.Synthetic),
			Inappropriate: maxf(base.Signals.Inappropriate, deep.Signals.Inappropriate),
			Language:      deep.Signals.Language,
			Seconds:       maxf(base.Signals.Seconds, deep.Signals.Seconds),
		},
		ModelsUsed: append(append([]string{}, base.ModelsUsed...), deep.ModelsUsed...),
		Cost:       base.Cost + deep.Cost,
	}
	if out.Transcript == "" {
		out.Transcript = base.Transcript
	}
	if out.Signals.Language == "" {
		out.Signals.Language = base.Signals.Language
	}
	return out
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
