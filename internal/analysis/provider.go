// Package analysis invokes transcription and content-analysis providers and
// normalizes their output into a confidence score plus structured signals.
// Providers are swappable behind the Provider interface; tier routing and
// retry live in the Router.
package analysis

import (
	"context"
	"errors"
)

// ErrUnavailable marks a transient provider failure (timeout, transport
// error, 5xx). The pipeline retries these within the attempt cap; anything
// else is treated as permanent.
var ErrUnavailable = errors.New("analysis provider unavailable")

// Payload is the audio handed to a provider.
type Payload struct {
	Bytes           []byte
	ContentType     string
	FileName        string
	DeclaredSeconds float64
}

// Signals are the normalized content signals every provider must produce.
// All scores are in [0,1].
type Signals struct {
	Spam          float64 `json:"spamScore"`
	Gibberish     float64 `json:"gibberishScore"`
	Synthetic     float64 `json:"syntheticVoiceScore"`
	Inappropriate float64 `json:"inappropriateScore"`
	Language      string  `json:"languageCode"`
	Seconds       float64 `json:"durationSeconds"`
}

// Result is a normalized provider response.
type Result struct {
	Confidence float64
	Transcript string
	Signals    Signals
	ModelsUsed []string
	Cost       float64
}

// Provider is the capability every analysis backend implements: given a
// payload, return confidence plus signals.
type Provider interface {
	Name() string
	Analyze(ctx context.Context, payload Payload) (Result, error)
}
