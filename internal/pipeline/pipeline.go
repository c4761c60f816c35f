// Package pipeline orchestrates one processing attempt for a submission:
// eligibility, technical validation, duplicate inspection, tier-routed
// analysis, verdict, ledger write, and notification dispatch. Stages run
// sequentially because each depends on the previous stage's output.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"voxdrop/internal/analysis"
	"voxdrop/internal/decision"
	"voxdrop/internal/eligibility"
	"voxdrop/internal/fingerprint"
	"voxdrop/internal/model"
	"voxdrop/internal/rejection"
	"voxdrop/internal/repository"
)

// ErrRetry wraps transient failures the queue should redeliver. Everything
// else the pipeline swallows after producing a valid terminal-or-pending
// status; callers never observe an unhandled failure for a submission.
var ErrRetry = errors.New("transient processing failure")

// SubmissionStore is the persistence surface the pipeline needs. The pgx
// repository implements it; tests use an in-memory fake.
type SubmissionStore interface {
	Get(ctx context.Context, id string) (*model.Submission, error)
	BeginAttempt(ctx context.Context, id string) (*model.Submission, error)
	RecordAnalysis(ctx context.Context, id string, confidence float64, models []string, transcript string, usedAdvanced bool) error
	SetFingerprint(ctx context.Context, id, fingerprint string) error
	Finalize(ctx context.Context, id string, status model.Status, reason string, cost float64) error
	MarkRetryPending(ctx context.Context, id string) error
	ResolveQuarantine(ctx context.Context, id string, to model.Status, reason string) (*model.Submission, error)
}

// Gate is the eligibility check surface.
type Gate interface {
	Check(ctx context.Context, userID, senderEmail string) (eligibility.Result, error)
}

// UsageCharger performs the atomic quota increment on completion.
type UsageCharger interface {
	TryIncrementUsage(ctx context.Context, userID string) (bool, error)
}

// Inspector is the duplicate-detection surface of the fingerprint engine.
type Inspector interface {
	Inspect(ctx context.Context, sender string, payload []byte, selfID string) (fingerprint.Findings, error)
	Record(ctx context.Context, sender string, f fingerprint.Findings, selfID string) error
}

// Analyzer is the tier-routing analysis surface.
type Analyzer interface {
	Analyze(ctx context.Context, payload analysis.Payload, tier model.Tier) (analysis.Result, bool, error)
}

// Ledger appends immutable audit entries.
type Ledger interface {
	Append(ctx context.Context, entry repository.LedgerEntry) error
}

// Blob fetches stored payload bytes.
type Blob interface {
	Fetch(ctx context.Context, objectKey string) ([]byte, error)
}

// Notifier dispatches verdict notifications. Dispatch is best-effort and
// idempotent; a failed notification never rolls back a verdict.
type Notifier interface {
	Dispatch(ctx context.Context, sub *model.Submission)
}

// Options carry the configured bounds and thresholds.
type Options struct {
	Limits      decision.Limits
	Thresholds  decision.Thresholds
	MaxAttempts int
}

// Pipeline wires the stages together.
type Pipeline struct {
	subs     SubmissionStore
	gate     Gate
	usage    UsageCharger
	inspect  Inspector
	analyzer Analyzer
	ledger   Ledger
	blob     Blob
	notifier Notifier
	opts     Options
	log      *logrus.Entry
}

// New constructs a pipeline.
func New(subs SubmissionStore, gate Gate, usage UsageCharger, inspect Inspector,
	analyzer Analyzer, ledger Ledger, blob Blob, notifier Notifier,
	opts Options, log *logrus.Entry) *Pipeline {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Pipeline{
		subs:     subs,
		gate:     gate,
		usage:    usage,
		inspect:  inspect,
		analyzer: analyzer,
		ledger:   ledger,
		blob:     blob,
		notifier: notifier,
		opts:     opts,
		log:      log,
	}
}

// Process runs one attempt for a submission. Settled records are a no-op:
// no new AI call, no ledger entry, no notification.
func (p *Pipeline) Process(ctx context.Context, id string) error {
	sub, err := p.subs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			p.log.WithField("submission", id).Warn("dropping task for unknown submission")
			return nil
		}
		return fmt.Errorf("%w: load submission: %v", ErrRetry, err)
	}
	if model.IsSettled(sub.Status) {
		p.log.WithFields(logrus.Fields{"submission": id, "status": sub.Status}).
			Debug("submission already settled, skipping")
		return nil
	}
	prev := sub.Status

	sub, err = p.subs.BeginAttempt(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotProcessable) {
			// Another attempt settled the record between the read and the claim.
			return nil
		}
		return fmt.Errorf("%w: begin attempt: %v", ErrRetry, err)
	}
	attempt := sub.Attempts
	log := p.log.WithFields(logrus.Fields{"submission": id, "attempt": attempt})

	if attempt > p.opts.MaxAttempts {
		return p.conclude(ctx, sub, prev, attempt,
			decision.Verdict{Status: model.StatusFailed, Reason: rejection.ProcessingError}, nil, nil)
	}

	// Stage 1: eligibility. Cheapest rejection path, no payload read.
	elig, err := p.gate.Check(ctx, sub.UserID, sub.SenderEmail)
	if err != nil {
		return p.transientFailure(ctx, sub, attempt, log, fmt.Errorf("eligibility: %w", err))
	}
	if v := decision.FromEligibility(elig); v != nil {
		return p.conclude(ctx, sub, prev, attempt, *v, nil, nil)
	}
	sub.Tier = elig.Usage.Tier

	// Stage 2: technical validation against the actual payload.
	payload, err := p.blob.Fetch(ctx, sub.ObjectKey)
	if err != nil {
		return p.transientFailure(ctx, sub, attempt, log, fmt.Errorf("fetch payload: %w", err))
	}
	meta := decision.PayloadMeta{
		SizeBytes:       int64(len(payload)),
		ContentType:     sub.ContentType,
		Header:          head(payload, 512),
		DeclaredSeconds: sub.DeclaredSeconds,
	}
	if v := decision.FromValidation(meta, p.opts.Limits); v != nil {
		return p.conclude(ctx, sub, prev, attempt, *v, nil, nil)
	}

	// Stage 3: duplicate inspection. Read and compare only.
	findings, err := p.inspect.Inspect(ctx, sub.SenderEmail, payload, sub.ID)
	if err != nil {
		return p.transientFailure(ctx, sub, attempt, log, fmt.Errorf("fingerprint: %w", err))
	}
	if err := p.subs.SetFingerprint(ctx, sub.ID, findings.Digest); err != nil {
		return p.transientFailure(ctx, sub, attempt, log, fmt.Errorf("store fingerprint: %w", err))
	}
	sub.Fingerprint = findings.Digest
	if v := decision.FromDuplicates(findings, p.opts.Thresholds); v != nil {
		return p.conclude(ctx, sub, prev, attempt, *v, nil, &findings)
	}

	// Stage 4: tier-routed analysis, the only stage allowed to fail
	// transiently past this point.
	res, usedAdvanced, err := p.analyzer.Analyze(ctx, analysis.Payload{
		Bytes:           payload,
		ContentType:     sub.ContentType,
		FileName:        sub.FileName,
		DeclaredSeconds: sub.DeclaredSeconds,
	}, sub.Tier)
	if err != nil {
		if errors.Is(err, analysis.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			return p.transientFailure(ctx, sub, attempt, log, fmt.Errorf("analysis: %w", err))
		}
		// Permanent provider rejection: fail fast, never retried.
		log.WithError(err).Error("analysis rejected payload permanently")
		return p.conclude(ctx, sub, prev, attempt,
			decision.Verdict{Status: model.StatusRejected, Reason: rejection.TechnicalError}, nil, &findings)
	}
	if err := p.subs.RecordAnalysis(ctx, sub.ID, res.Confidence, res.ModelsUsed, res.Transcript, usedAdvanced); err != nil {
		return p.transientFailure(ctx, sub, attempt, log, fmt.Errorf("record analysis: %w", err))
	}
	sub.Confidence = &res.Confidence
	sub.ModelsUsed = res.ModelsUsed
	sub.Transcript = res.Transcript
	sub.UsedAdvancedAI = usedAdvanced

	verdict := decision.FromAnalysis(res, p.opts.Thresholds)

	// The quota slot is consumed only when a completion is actually being
	// finalized. Losing the conditional increment means a concurrent
	// submission took the last slot.
	if verdict.Status == model.StatusCompleted {
		charged, err := p.usage.TryIncrementUsage(ctx, sub.UserID)
		if err != nil {
			return p.transientFailure(ctx, sub, attempt, log, fmt.Errorf("increment usage: %w", err))
		}
		if !charged {
			verdict = decision.Verdict{Status: model.StatusRejected, Reason: rejection.UsageLimitExceeded}
		}
	}

	return p.conclude(ctx, sub, prev, attempt, verdict, &res, &findings)
}

// Resolve applies a human review decision to a quarantined submission and
// notifies the sender of the final verdict.
func (p *Pipeline) Resolve(ctx context.Context, id string, approve bool, reasonCode rejection.Code) (*model.Submission, error) {
	to := model.StatusQuarantineApproved
	reason := ""
	if !approve {
		to = model.StatusQuarantineRejected
		if reasonCode == "" {
			reasonCode = rejection.InappropriateContent
		}
		if _, ok := rejection.Lookup(reasonCode); !ok {
			return nil, fmt.Errorf("unknown rejection reason %q", reasonCode)
		}
		reason = string(reasonCode)
	}
	sub, err := p.subs.ResolveQuarantine(ctx, id, to, reason)
	if err != nil {
		return nil, err
	}
	entry := repository.LedgerEntry{
		SubmissionID: sub.ID,
		Attempt:      sub.Attempts,
		PrevStatus:   string(model.StatusQuarantined),
		NewStatus:    string(sub.Status),
		Reason:       reason,
		Confidence:   sub.Confidence,
		ModelsUsed:   sub.ModelsUsed,
	}
	if err := p.ledger.Append(ctx, entry); err != nil {
		p.log.WithField("submission", id).WithError(err).Error("ledger append failed after review")
	}
	p.notifier.Dispatch(ctx, sub)
	return sub, nil
}

// conclude finalizes a verdict: status write, fingerprint window insertion,
// ledger entry, and notification for terminal states. The audit write and
// notification run even if the task context is already cancelled.
func (p *Pipeline) conclude(ctx context.Context, sub *model.Submission, prev model.Status,
	attempt int, verdict decision.Verdict, res *analysis.Result, findings *fingerprint.Findings) error {

	var cost float64
	if res != nil {
		cost = res.Cost
	}
	if err := p.subs.Finalize(ctx, sub.ID, verdict.Status, string(verdict.Reason), cost); err != nil {
		if errors.Is(err, repository.ErrNotProcessable) {
			return nil
		}
		return fmt.Errorf("%w: finalize: %v", ErrRetry, err)
	}
	sub.Status = verdict.Status
	sub.RejectionReason = string(verdict.Reason)
	sub.ProcessingCost = cost

	if findings != nil {
		if err := p.inspect.Record(ctx, sub.SenderEmail, *findings, sub.ID); err != nil {
			// The verdict stands; a lost window entry only weakens future
			// duplicate detection.
			p.log.WithField("submission", sub.ID).WithError(err).Warn("fingerprint window append failed")
		}
	}

	entry := repository.LedgerEntry{
		SubmissionID: sub.ID,
		Attempt:      attempt,
		PrevStatus:   string(prev),
		NewStatus:    string(verdict.Status),
		Reason:       string(verdict.Reason),
		Cost:         cost,
	}
	if res != nil {
		c := res.Confidence
		entry.Confidence = &c
		entry.ModelsUsed = res.ModelsUsed
	}
	if err := p.ledger.Append(ctx, entry); err != nil {
		p.log.WithField("submission", sub.ID).WithError(err).Error("ledger append failed")
	}

	if model.IsTerminal(verdict.Status) {
		p.notifier.Dispatch(ctx, sub)
	}
	return nil
}

// transientFailure either schedules a retry or, at the attempt cap, settles
// the record as failed. Both paths write a ledger entry for the attempt.
func (p *Pipeline) transientFailure(ctx context.Context, sub *model.Submission,
	attempt int, log *logrus.Entry, cause error) error {

	if attempt >= p.opts.MaxAttempts {
		log.WithError(cause).Error("attempt cap reached, failing submission")
		return p.conclude(ctx, sub, model.StatusInProgress, attempt,
			decision.Verdict{Status: model.StatusFailed, Reason: rejection.ProcessingError}, nil, nil)
	}

	log.WithError(cause).Warn("transient failure, scheduling retry")
	if err := p.subs.MarkRetryPending(ctx, sub.ID); err != nil {
		log.WithError(err).Error("mark retry pending failed")
	}
	entry := repository.LedgerEntry{
		SubmissionID: sub.ID,
		Attempt:      attempt,
		PrevStatus:   string(model.StatusInProgress),
		NewStatus:    string(model.StatusPending),
		Reason:       string(rejection.ProcessingError),
	}
	if err := p.ledger.Append(ctx, entry); err != nil {
		log.WithError(err).Error("ledger append failed")
	}
	return fmt.Errorf("%w: %v", ErrRetry, cause)
}

func head(b []byte, n int) []byte {
	if len(b) < n {
		return b
	}
	return b[:n]
}
