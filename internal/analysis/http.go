package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// providerResponse is the wire format shared by the standard and advanced
// analysis endpoints.
type providerResponse struct {
	Model           string  `json:"model"`
	Transcript      string  `json:"transcript"`
	Confidence      float64 `json:"confidence"`
	SpamScore       float64 `json:"spamScore"`
	GibberishScore  float64 `json:"gibberishScore"`
	SyntheticScore  float64 `json:"syntheticVoiceScore"`
	Inappropriate   float64 `json:"inappropriateScore"`
	LanguageCode    string  `json:"languageCode"`
	DurationSeconds float64 `json:"durationSeconds"`
	CostUSD         float64 `json:"costUsd"`
	HasSignals      bool    `json:"hasSignals"`
}

// HTTPProvider posts the payload to an external analysis endpoint and decodes
// the normalized response. Network errors and 5xx responses are retried with
// exponential backoff inside the call deadline; 4xx responses are permanent.
type HTTPProvider struct {
	name       string
	endpoint   string
	apiKey     string
	costPerMin float64
	client     *http.Client
	log        *logrus.Entry
}

// NewHTTPProvider builds a provider for one endpoint. costPerMin is the
// fallback rate applied when the endpoint does not report its own cost.
func NewHTTPProvider(name, endpoint, apiKey string, costPerMin float64, timeout time.Duration, log *logrus.Entry) *HTTPProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{
		name:       name,
		endpoint:   endpoint,
		apiKey:     apiKey,
		costPerMin: costPerMin,
		client:     &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Name identifies the provider in ModelsUsed and the ledger.
func (p *HTTPProvider) Name() string { return p.name }

// Analyze sends the payload and normalizes the response. When the endpoint
// returns a transcript without signals, the text heuristics fill them in.
func (p *HTTPProvider) Analyze(ctx context.Context, payload Payload) (Result, error) {
	var decoded providerResponse

	operation := func() error {
		body, contentType, err := encodeMultipart(payload)
		if err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", contentType)
		if p.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.apiKey)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)

		if resp.StatusCode >= 500 {
			return fmt.Errorf("provider %s: server error %d", p.name, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("provider %s: rejected request: %d %s", p.name, resp.StatusCode, raw))
		}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return backoff.Permanent(fmt.Errorf("provider %s: decode response: %w", p.name, err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = p.client.Timeout
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return Result{}, perm.Err
		}
		p.log.WithField("provider", p.name).WithError(err).Warn("provider call failed after retries")
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	result := Result{
		Confidence: clamp01(decoded.Confidence),
		Transcript: decoded.Transcript,
		Signals: Signals{
			Spam:          clamp01(decoded.SpamScore),
			Gibberish:     clamp01(decoded.GibberishScore),
			Synthetic:     clamp01(decoded.SyntheticScore),
			Inappropriate: clamp01(decoded.Inappropriate),
			Language:      decoded.LanguageCode,
			Seconds:       decoded.DurationSeconds,
		},
		ModelsUsed: []string{p.modelName(decoded.Model)},
		Cost:       decoded.CostUSD,
	}
	if result.Signals.Seconds == 0 {
		result.Signals.Seconds = payload.DeclaredSeconds
	}
	if !decoded.HasSignals {
		result.Signals.Spam = SpamScore(result.Transcript)
		result.Signals.Gibberish = GibberishScore(result.Transcript)
	}
	if result.Cost == 0 {
		result.Cost = p.costPerMin * result.Signals.Seconds / 60
	}
	return result, nil
}

func (p *HTTPProvider) modelName(reported string) string {
	if reported != "" {
		return reported
	}
	return p.name
}

func encodeMultipart(payload Payload) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", payload.FileName)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(payload.Bytes); err != nil {
		return nil, "", fmt.Errorf("write form file: %w", err)
	}
	if err := w.WriteField("contentType", payload.ContentType); err != nil {
		return nil, "", fmt.Errorf("write field: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
