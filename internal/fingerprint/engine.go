package fingerprint

import (
	"context"
	"fmt"
	"time"
)

// Entry is one fingerprint observation inside a sender's recency window.
type Entry struct {
	SubmissionID string    `json:"id"`
	Digest       string    `json:"digest"`
	Simhash      uint64    `json:"simhash"`
	At           time.Time `json:"at"`
}

// WindowStore is the shared, append-safe store of recent fingerprints per
// sender. Readers may see slightly stale data; appended entries must not be
// lost across instances.
type WindowStore interface {
	Append(ctx context.Context, sender string, entry Entry) error
	Recent(ctx context.Context, sender string, since time.Time) ([]Entry, error)
}

// DigestIndex looks up prior persisted submissions with an identical digest.
// The submission repository implements it.
type DigestIndex interface {
	DigestMatches(ctx context.Context, senderEmail, fingerprint, excludeID string) ([]string, error)
}

// Findings is the read-only result of inspecting one payload.
type Findings struct {
	Digest  string
	Simhash uint64
	// Exact and Near list prior submission ids that collide.
	Exact []string
	Near  []string
	// FamilyLastHour counts same-family entries (exact or near) within the
	// past hour; TotalLastHour counts everything the sender submitted.
	FamilyLastHour int
	TotalLastHour  int
}

// Engine performs duplicate inspection. It never mutates persisted records;
// window insertion is a separate, explicit Record call made after a decision.
type Engine struct {
	window     WindowStore
	index      DigestIndex
	hammingMax int
	span       time.Duration
	now        func() time.Time
}

// NewEngine builds an engine with the configured near-duplicate bound and
// window span.
func NewEngine(window WindowStore, index DigestIndex, hammingMax int, span time.Duration) *Engine {
	if span <= 0 {
		span = 7 * 24 * time.Hour
	}
	return &Engine{
		window:     window,
		index:      index,
		hammingMax: hammingMax,
		span:       span,
		now:        time.Now,
	}
}

// Inspect fingerprints the payload and compares it against the sender's
// history. selfID excludes the record under inspection from its own matches.
func (e *Engine) Inspect(ctx context.Context, sender string, payload []byte, selfID string) (Findings, error) {
	f := Findings{
		Digest:  Digest(payload),
		Simhash: Simhash(payload),
	}

	exact, err := e.index.DigestMatches(ctx, sender, f.Digest, selfID)
	if err != nil {
		return f, fmt.Errorf("digest lookup: %w", err)
	}
	f.Exact = exact

	now := e.now().UTC()
	entries, err := e.window.Recent(ctx, sender, now.Add(-e.span))
	if err != nil {
		return f, fmt.Errorf("window lookup: %w", err)
	}

	hourAgo := now.Add(-time.Hour)
	seenExact := make(map[string]struct{}, len(exact))
	for _, id := range exact {
		seenExact[id] = struct{}{}
	}
	for _, entry := range entries {
		if entry.SubmissionID == selfID {
			continue
		}
		sameFamily := false
		switch {
		case entry.Digest == f.Digest:
			sameFamily = true
			if _, dup := seenExact[entry.SubmissionID]; !dup {
				f.Exact = append(f.Exact, entry.SubmissionID)
				seenExact[entry.SubmissionID] = struct{}{}
			}
		case Hamming(entry.Simhash, f.Simhash) <= e.hammingMax:
			sameFamily = true
			f.Near = append(f.Near, entry.SubmissionID)
		}
		if entry.At.After(hourAgo) {
			f.TotalLastHour++
			if sameFamily {
				f.FamilyLastHour++
			}
		}
	}
	return f, nil
}

// Record appends the inspected fingerprint to the sender's window. Called
// once per processed attempt, after the verdict.
func (e *Engine) Record(ctx context.Context, sender string, f Findings, selfID string) error {
	return e.window.Append(ctx, sender, Entry{
		SubmissionID: selfID,
		Digest:       f.Digest,
		Simhash:      f.Simhash,
		At:           e.now().UTC(),
	})
}
