package model

import "testing"

func TestTransitionTable(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusInProgress}:             true,
		{StatusInProgress, StatusPending}:             true,
		{StatusInProgress, StatusInProgress}:          true,
		{StatusInProgress, StatusCompleted}:           true,
		{StatusInProgress, StatusRejected}:            true,
		{StatusInProgress, StatusQuarantined}:         true,
		{StatusInProgress, StatusFailed}:              true,
		{StatusQuarantined, StatusQuarantineApproved}: true,
		{StatusQuarantined, StatusQuarantineRejected}: true,
	}

	for _, from := range AllStatuses() {
		for _, to := range AllStatuses() {
			got, err := Transition(from, to)
			if allowed[[2]Status{from, to}] {
				if err != nil {
					t.Errorf("Transition(%s, %s): unexpected error %v", from, to, err)
				}
				if got != to {
					t.Errorf("Transition(%s, %s) = %s, want %s", from, to, got, to)
				}
				continue
			}
			if err == nil {
				t.Errorf("Transition(%s, %s): expected error", from, to)
			}
			if got != from {
				t.Errorf("Transition(%s, %s) on error = %s, want unchanged %s", from, to, got, from)
			}
		}
	}
}

func TestTerminalNeverTransitions(t *testing.T) {
	for _, from := range AllStatuses() {
		if !IsTerminal(from) {
			continue
		}
		for _, to := range AllStatuses() {
			if _, err := Transition(from, to); err == nil {
				t.Errorf("terminal status %s has outgoing edge to %s", from, to)
			}
		}
	}
}

func TestIsSettled(t *testing.T) {
	cases := map[Status]bool{
		StatusPending:            false,
		StatusInProgress:         false,
		StatusCompleted:          true,
		StatusRejected:           true,
		StatusQuarantined:        true,
		StatusQuarantineApproved: true,
		StatusQuarantineRejected: true,
		StatusFailed:             true,
	}
	for status, want := range cases {
		if got := IsSettled(status); got != want {
			t.Errorf("IsSettled(%s) = %v, want %v", status, got, want)
		}
	}
	if IsTerminal(StatusQuarantined) {
		t.Error("quarantined must not be terminal, review can still move it")
	}
}

func TestParseTier(t *testing.T) {
	cases := map[string]Tier{
		"premium":    TierPremium,
		" Enterprise": TierEnterprise,
		"BASIC":      TierBasic,
		"free":       TierFree,
		"":           TierFree,
		"platinum":   TierFree,
	}
	for in, want := range cases {
		if got := ParseTier(in); got != want {
			t.Errorf("ParseTier(%q) = %s, want %s", in, got, want)
		}
	}
	if TierBasic.AdvancedAI() || TierFree.AdvancedAI() {
		t.Error("free and basic must not route to advanced AI")
	}
	if !TierPremium.AdvancedAI() || !TierEnterprise.AdvancedAI() {
		t.Error("premium and enterprise must route to advanced AI")
	}
}

func TestUsageExhausted(t *testing.T) {
	if (Usage{CurrentUsage: 49, MaxUsage: 50}).Exhausted() {
		t.Error("one slot left must not read as exhausted")
	}
	if !(Usage{CurrentUsage: 50, MaxUsage: 50}).Exhausted() {
		t.Error("at the cap must read as exhausted")
	}
	if (Usage{CurrentUsage: 100000, MaxUsage: -1}).Exhausted() {
		t.Error("negative max means unlimited")
	}
}
