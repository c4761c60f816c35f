// Package decision turns stage results into a terminal verdict. Every
// function here is pure: identical inputs always produce the identical
// verdict, which keeps the engine trivially testable and the precedence
// order explicit.
package decision

import (
	"voxdrop/internal/analysis"
	"voxdrop/internal/eligibility"
	"voxdrop/internal/fingerprint"
	"voxdrop/internal/model"
	"voxdrop/internal/rejection"
)

// Verdict is the outcome of one evaluation step. A nil *Verdict from the
// staged From* helpers means "no veto, continue to the next stage".
type Verdict struct {
	Status model.Status
	Reason rejection.Code
}

// Thresholds hold the configured decision bounds.
type Thresholds struct {
	// Accept and Reject bound the confidence bands: >= Accept completes,
	// [Reject, Accept) quarantines, < Reject rejects by dominant signal.
	Accept float64
	Reject float64

	Spam          float64
	Gibberish     float64
	Synthetic     float64
	Inappropriate float64

	MinSeconds float64
	MaxSeconds float64

	RepeatedPerHour int
	BulkPerHour     int
}

// FromEligibility converts a gate veto into a terminal rejection. Cheapest
// rejection path first: no payload read, no AI call.
func FromEligibility(res eligibility.Result) *Verdict {
	if res.Allowed {
		return nil
	}
	return &Verdict{Status: model.StatusRejected, Reason: res.Reason}
}

// FromValidation converts a technical validation failure into a terminal
// rejection.
func FromValidation(meta PayloadMeta, limits Limits) *Verdict {
	if code, ok := ValidatePayload(meta, limits); !ok {
		return &Verdict{Status: model.StatusRejected, Reason: code}
	}
	return nil
}

// FromDuplicates converts fingerprint findings into a terminal rejection.
// Single-pair duplicates outrank the rate-based patterns because they are
// the stronger evidence.
func FromDuplicates(f fingerprint.Findings, th Thresholds) *Verdict {
	switch {
	case len(f.Exact) > 0:
		return &Verdict{Status: model.StatusRejected, Reason: rejection.ExactDuplicate}
	case len(f.Near) > 0:
		return &Verdict{Status: model.StatusRejected, Reason: rejection.NearDuplicate}
	case th.RepeatedPerHour > 0 && f.FamilyLastHour >= th.RepeatedPerHour:
		return &Verdict{Status: model.StatusRejected, Reason: rejection.RepeatedMessage}
	case th.BulkPerHour > 0 && f.TotalLastHour >= th.BulkPerHour:
		return &Verdict{Status: model.StatusRejected, Reason: rejection.BulkSenderPattern}
	}
	return nil
}

// FromAnalysis always yields a verdict: completed, quarantined, or rejected
// by the dominant signal with ties broken by the fixed category precedence
// (security > policy > spam > quality).
func FromAnalysis(res analysis.Result, th Thresholds) Verdict {
	// Measured duration can contradict the declared one; quality bounds
	// apply to what the provider actually heard.
	if th.MinSeconds > 0 && res.Signals.Seconds > 0 && res.Signals.Seconds < th.MinSeconds {
		return Verdict{Status: model.StatusRejected, Reason: rejection.AudioTooShort}
	}
	if th.MaxSeconds > 0 && res.Signals.Seconds > th.MaxSeconds {
		return Verdict{Status: model.StatusRejected, Reason: rejection.AudioTooLong}
	}

	flagged := policyFlags(res, th)

	if res.Confidence >= th.Accept && len(flagged) == 0 {
		return Verdict{Status: model.StatusCompleted}
	}

	if len(flagged) == 0 {
		if res.Confidence >= th.Reject {
			return Verdict{Status: model.StatusQuarantined}
		}
		return Verdict{Status: model.StatusRejected, Reason: rejection.LowConfidenceTranscript}
	}

	code, _ := rejection.Dominant(flagged)
	return Verdict{Status: model.StatusRejected, Reason: code}
}

// policyFlags collects every signal above its threshold.
func policyFlags(res analysis.Result, th Thresholds) []rejection.Code {
	var flagged []rejection.Code
	if th.Synthetic > 0 && res.Signals.Synthetic >= th.Synthetic {
		flagged = append(flagged, rejection.SyntheticVoice)
	}
	if th.Inappropriate > 0 && res.Signals.Inappropriate >= th.Inappropriate {
		flagged = append(flagged, rejection.InappropriateContent)
	}
	if th.Spam > 0 && res.Signals.Spam >= th.Spam {
		flagged = append(flagged, rejection.SpamContent)
	}
	if th.Gibberish > 0 && res.Signals.Gibberish >= th.Gibberish {
		flagged = append(flagged, rejection.UnintelligibleSpeech)
	}
	return flagged
}
