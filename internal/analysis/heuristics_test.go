package analysis

import "testing"

func TestSpamScore(t *testing.T) {
	if got := SpamScore("hey, are we still on for lunch tomorrow?"); got != 0 {
		t.Fatalf("plain speech scored %v", got)
	}
	if got := SpamScore(""); got != 0 {
		t.Fatalf("empty transcript scored %v", got)
	}
	spam := "act now for free money, guaranteed winner, click here https://example.com buy now"
	if got := SpamScore(spam); got < 0.7 {
		t.Fatalf("marker-dense transcript scored %v", got)
	}
	saturated := "free money, act now, limited time, click here winner, guaranteed riches"
	if got := SpamScore(saturated); got != 1 {
		t.Fatalf("saturated score = %v, want clamp at 1", got)
	}
}

func TestGibberishScore(t *testing.T) {
	if got := GibberishScore(""); got != 1 {
		t.Fatalf("empty transcript = %v, want 1", got)
	}
	if got := GibberishScore("12 34 -- !!"); got != 1 {
		t.Fatalf("letterless transcript = %v, want 1", got)
	}
	if got := GibberishScore("hi mom, calling to say the package arrived safely this morning"); got >= 0.5 {
		t.Fatalf("natural speech scored %v", got)
	}
	if got := GibberishScore("zxcvb qwrtp zzzgrhm xkcdq wpmfht"); got < 0.5 {
		t.Fatalf("vowel-free noise scored %v", got)
	}
	if got := GibberishScore("beep beep beep beep beep beep beep"); got < 0.4 {
		t.Fatalf("stuck repetition scored %v", got)
	}
}
